package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/planetdecred/indexerlib"
	"github.com/urfave/cli/v2"
)

var Version = ""

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "indexerloader"
	app.Usage = "Indexer supervisor"
	app.Description = "Installs, runs and restarts the indexer and reports its sync progress"
	app.Flags = Flags
	app.Action = runCmd
	app.Commands = []*cli.Command{
		{
			Name:   "profiles",
			Usage:  "List the available profiles",
			Action: profilesCmd,
		},
		{
			Name:   "reset",
			Usage:  "Remove the indexer database and sync baseline of a profile without changing the selection",
			Action: resetCmd,
		},
	}
	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func openLoader(cliCtx *cli.Context) (*indexerlib.Loader, error) {
	loader, err := indexerlib.NewLoader(cliCtx.String(RootDirFlag.Name), &indexerlib.Options{
		IndexerEndpoint: cliCtx.String(IndexerEndpointFlag.Name),
		ContractsURL:    cliCtx.String(ContractsURLFlag.Name),
		InstallDir:      cliCtx.String(InstallDirFlag.Name),
		TrayLabel: func(label string) {
			fmt.Fprintf(cliCtx.App.Writer, "\rSynced %s", label)
		},
	})
	if err != nil {
		return nil, err
	}

	if level := cliCtx.String(LogLevelFlag.Name); level != "" {
		if err := loader.SetLogLevel(level); err != nil {
			loader.Shutdown()
			return nil, fmt.Errorf("invalid log level %q", level)
		}
	}
	if cliCtx.IsSet(TargetVersionFlag.Name) {
		if err := loader.SetTargetVersion(cliCtx.String(TargetVersionFlag.Name)); err != nil {
			loader.Shutdown()
			return nil, fmt.Errorf("invalid target version %q", cliCtx.String(TargetVersionFlag.Name))
		}
	}
	return loader, nil
}

func selectedProfile(cliCtx *cli.Context, loader *indexerlib.Loader) string {
	if id := cliCtx.String(ProfileFlag.Name); id != "" {
		return id
	}
	return loader.ActiveProfile().ID
}

func runCmd(cliCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader, err := openLoader(cliCtx)
	if err != nil {
		return err
	}
	defer loader.Shutdown()

	if err := loader.AddListener("cli", &printListener{w: cliCtx.App.Writer}); err != nil {
		return err
	}

	if err := loader.Start(ctx, selectedProfile(cliCtx, loader)); err != nil {
		return err
	}

	<-ctx.Done()
	fmt.Fprintln(cliCtx.App.Writer)
	return nil
}

func profilesCmd(cliCtx *cli.Context) error {
	loader, err := openLoader(cliCtx)
	if err != nil {
		return err
	}
	defer loader.Shutdown()

	active := loader.ActiveProfile().ID
	for _, id := range loader.ProfileIDs() {
		marker := " "
		if id == active {
			marker = "*"
		}
		fmt.Fprintf(cliCtx.App.Writer, "%s %s\n", marker, id)
	}
	return nil
}

func resetCmd(cliCtx *cli.Context) error {
	loader, err := openLoader(cliCtx)
	if err != nil {
		return err
	}
	defer loader.Shutdown()

	id := cliCtx.String(ProfileFlag.Name)
	if id == "" {
		id = loader.ActiveProfile().ID
	}
	if err := loader.ResetProfile(id); err != nil {
		return err
	}
	fmt.Fprintf(cliCtx.App.Writer, "Database of %s reset\n", id)
	return nil
}
