package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/sessionlink"
	"pkt.systems/sessionlink/internal/appconfig"
	"pkt.systems/sessionlink/internal/eventbus"
	"pkt.systems/sessionlink/schema"
)

func newConnectCmd() *cobra.Command {
	var cfgPath string
	var projects []string
	var createName string
	var createDescription string
	cmd := &cobra.Command{
		Use:   "connect [endpoint...]",
		Short: "Connect to sync servers and stream lifecycle events",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}

			targets, err := connectTargets(cfg, args, projects)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return errors.New("no endpoints configured; pass one or add endpoints to the config")
			}

			client, err := sessionlink.New(sessionlink.ClientConfig{
				Conn:     cfg.Connection.ConnConfig(),
				StateDir: cfg.StateDir,
			}, sessionlink.ClientDeps{
				Logger: logger,
			}, sessionlink.WithEventBus())
			if err != nil {
				return err
			}
			defer client.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			for _, target := range targets {
				events, cancel, err := client.Subscribe(target.endpoint)
				if err != nil {
					return err
				}
				defer cancel()
				go logEvents(logger, events)

				for _, project := range target.projects {
					if err := client.Join(target.endpoint, project); err != nil {
						return err
					}
				}
				// A failed first dial is not fatal while reconnection is
				// scheduled in the background.
				if err := client.Connect(ctx, target.endpoint); err != nil {
					logger.With("endpoint", target.endpoint).Warn("initial connect failed", "err", err)
				}
				logger.With("endpoint", target.endpoint).Info("connecting", "projects", len(target.projects))

				if createName != "" {
					id, err := client.Submit(target.endpoint, schema.ProjectInput{
						Name:        createName,
						Description: createDescription,
					})
					if err != nil {
						return err
					}
					logger.With("endpoint", target.endpoint).Info("create submitted", "request", id)
				}
			}

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringSliceVarP(&projects, "project", "p", nil, "project to join on every endpoint")
	cmd.Flags().StringVar(&createName, "create", "", "submit a project creation with this name on every endpoint")
	cmd.Flags().StringVar(&createDescription, "create-description", "", "description for --create")
	return cmd
}

type connectTarget struct {
	endpoint schema.Endpoint
	projects []schema.ProjectID
}

// connectTargets merges config endpoints with command-line overrides. When
// endpoints are given as arguments they replace the configured set; the
// --project flag applies to every target.
func connectTargets(cfg appconfig.Config, args, extraProjects []string) ([]connectTarget, error) {
	extra := make([]schema.ProjectID, 0, len(extraProjects))
	for _, project := range extraProjects {
		if project == "" {
			continue
		}
		extra = append(extra, schema.ProjectID(project))
	}

	var targets []connectTarget
	if len(args) > 0 {
		for _, arg := range args {
			endpoint := schema.Endpoint(arg)
			if err := schema.ValidateEndpoint(endpoint); err != nil {
				return nil, fmt.Errorf("endpoint %q: %w", arg, err)
			}
			targets = append(targets, connectTarget{endpoint: endpoint, projects: extra})
		}
		return targets, nil
	}

	for _, entry := range cfg.Endpoints {
		projects := make([]schema.ProjectID, 0, len(entry.Projects)+len(extra))
		for _, project := range entry.Projects {
			if project == "" {
				continue
			}
			projects = append(projects, schema.ProjectID(project))
		}
		projects = append(projects, extra...)
		targets = append(targets, connectTarget{
			endpoint: schema.Endpoint(entry.URL),
			projects: projects,
		})
	}
	return targets, nil
}

func logEvents(logger pslog.Logger, events <-chan eventbus.Event) {
	for event := range events {
		switch event.Type {
		case eventbus.EventStatus:
			logger.With("endpoint", event.Status.Endpoint).
				Info("connection status", "old", event.Status.Old, "new", event.Status.New)
		case eventbus.EventError:
			log := logger.With("endpoint", event.Error.Endpoint)
			if event.Error.Critical {
				log.Error("connection error", "message", event.Error.Message)
			} else {
				log.Warn("connection error", "message", event.Error.Message)
			}
		case eventbus.EventRequest:
			logger.With("endpoint", event.Request.Endpoint).
				Info("request update", "request", event.Request.RequestID, "phase", event.Request.Phase)
		}
	}
}
