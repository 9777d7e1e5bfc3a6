package main

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/ruteri/tee-key-rotation/api/rotationhandler"
	"github.com/ruteri/tee-key-rotation/interfaces"
	"github.com/urfave/cli/v2"
)

var flagServer = &cli.StringFlag{
	Name:    "server",
	Value:   "http://127.0.0.1:8080",
	EnvVars: []string{"ROTATION_SERVER"},
	Usage:   "rotation service address",
}

var flagJSON = &cli.BoolFlag{
	Name:  "json",
	Usage: "print raw JSON",
}

func pairArg(cCtx *cli.Context) (interfaces.KeyPairID, error) {
	if cCtx.NArg() != 1 {
		return interfaces.KeyPairID{}, fmt.Errorf("expected one key pair argument such as ks2/user")
	}
	return interfaces.ParseKeyPairID(cCtx.Args().First())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	app := &cli.App{
		Name:           "rotationctl",
		Usage:          "Inspect and operate a key rotation service",
		DefaultCommand: "status",
		Flags:          []cli.Flag{flagServer},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "list key pairs, or show one: status [ks<space>/<tier>]",
				Flags: []cli.Flag{flagJSON},
				Action: func(cCtx *cli.Context) error {
					client := rotationhandler.NewAdminClient(cCtx.String(flagServer.Name))
					if cCtx.NArg() == 1 {
						id, err := pairArg(cCtx)
						if err != nil {
							return err
						}
						status, err := client.KeyPair(cCtx.Context, id)
						if err != nil {
							return err
						}
						return printJSON(status)
					}

					statuses, err := client.KeyPairs(cCtx.Context)
					if err != nil {
						return err
					}
					if cCtx.Bool(flagJSON.Name) {
						return printJSON(statuses)
					}

					w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
					fmt.Fprintln(w, "PAIR\tENGINE\tSTATE\tWORK UNITS\tCONSUMERS\tROTATIONS\tTIMEOUT")
					for _, s := range statuses {
						fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d/%d\t%d\t%s\n",
							s.Pair, s.KeySpace, s.State, s.WorkUnits, s.UpperLimit,
							s.Quiesced, s.Consumers, s.Rotations,
							time.Duration(s.TimeoutRemainingMs)*time.Millisecond)
					}
					return w.Flush()
				},
			},
			{
				Name:      "trigger",
				Usage:     "force a rotation of a key pair on the next tick",
				ArgsUsage: "ks<space>/<tier>",
				Action: func(cCtx *cli.Context) error {
					id, err := pairArg(cCtx)
					if err != nil {
						return err
					}
					client := rotationhandler.NewAdminClient(cCtx.String(flagServer.Name))
					if err := client.Trigger(cCtx.Context, id); err != nil {
						return err
					}
					fmt.Printf("rotation of %s triggered\n", id)
					return nil
				},
			},
			{
				Name:      "recover",
				Usage:     "retry the rotation of a key pair in the failed state",
				ArgsUsage: "ks<space>/<tier>",
				Action: func(cCtx *cli.Context) error {
					id, err := pairArg(cCtx)
					if err != nil {
						return err
					}
					client := rotationhandler.NewAdminClient(cCtx.String(flagServer.Name))
					if err := client.Recover(cCtx.Context, id); err != nil {
						return err
					}
					fmt.Printf("%s recovered\n", id)
					return nil
				},
			},
			{
				Name:  "enable",
				Usage: "resume rotation",
				Action: func(cCtx *cli.Context) error {
					return rotationhandler.NewAdminClient(cCtx.String(flagServer.Name)).SetEnabled(cCtx.Context, true)
				},
			},
			{
				Name:  "disable",
				Usage: "pause rotation, in-flight rotations complete",
				Action: func(cCtx *cli.Context) error {
					return rotationhandler.NewAdminClient(cCtx.String(flagServer.Name)).SetEnabled(cCtx.Context, false)
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
