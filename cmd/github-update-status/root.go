/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/chainguard-dev/clog"
	"github.com/sethvargo/go-envconfig"
	"github.com/spf13/cobra"

	"github.com/chainguard-dev/github-update-status/pkg/gitcommit"
	"github.com/chainguard-dev/github-update-status/pkg/githubstatus"
	"github.com/chainguard-dev/github-update-status/pkg/httpmetrics"
	"github.com/chainguard-dev/github-update-status/pkg/notify"
	"github.com/chainguard-dev/github-update-status/pkg/resolve"
	"github.com/chainguard-dev/github-update-status/pkg/taskconfig"
)

const name = "github-update-status"

var errFailed = errors.New("one or more targets failed")

type app struct {
	cfg *config
	env envconfig.Lookuper

	configFile string
	dryRun     bool
}

func newRootCmd(cfg *config, env envconfig.Lookuper) *cobra.Command {
	a := &app{cfg: cfg, env: env}

	root := &cobra.Command{
		Use:   name,
		Short: "Set GitHub commit statuses",
		Long: `github-update-status posts commit statuses to GitHub.

Targets are read from a YAML file, by default .github-status.yaml:

  options:
    owner: octocat
    repo: hello-world
  build:
    state: pending
    context: build

The token defaults to $GITHUB_TOKEN and the commit to the HEAD of the
working tree.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", cfg.ConfigFile, "targets file")
	root.PersistentFlags().BoolVar(&a.dryRun, "dry-run", false, "resolve and validate, but do not call GitHub")

	root.AddCommand(a.newRunCmd())
	root.AddCommand(a.newSetCmd())
	root.AddCommand(a.newTargetsCmd())
	return root
}

func (a *app) newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [target...]",
		Short: "Send the statuses of the named targets, or of every target",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := taskconfig.Load(a.configFile)
			if err != nil {
				return err
			}
			targets, err := cfg.Select(args...)
			if err != nil {
				return err
			}
			return a.dispatch(cmd.Context(), targets)
		},
	}
}

func (a *app) newSetCmd() *cobra.Command {
	var owner, repo, repository, token, sha, state, statusContext, targetURL, description string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Send a single status described by flags",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			flags := cmd.Flags()
			value := func(flag, v string) resolve.Value {
				if !flags.Changed(flag) {
					return resolve.Value{}
				}
				return resolve.Literal(v)
			}
			ownerValue, repoValue := value("owner", owner), value("repo", repo)
			if repository != "" {
				o, r, err := githubstatus.ParseRepository(repository)
				if err != nil {
					return err
				}
				if !ownerValue.IsSet() {
					ownerValue = resolve.Literal(o)
				}
				if !repoValue.IsSet() {
					repoValue = resolve.Literal(r)
				}
			}
			target := &githubstatus.Target{
				Options: githubstatus.Options{
					Owner:     ownerValue,
					Repo:      repoValue,
					Token:     value("token", token),
					CommitSHA: value("sha", sha),
				},
				Update: githubstatus.Update{
					State:       value("state", state),
					Context:     value("context", statusContext),
					TargetURL:   value("target-url", targetURL),
					Description: value("description", description),
				},
			}
			return a.dispatch(cmd.Context(), []taskconfig.Named{{Name: "set", Target: target}})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "repository owner or organization")
	cmd.Flags().StringVar(&repo, "repo", "", "repository name")
	cmd.Flags().StringVar(&repository, "repository", "", "repository URL to take the owner and name from, e.g. https://github.com/octocat/hello-world")
	cmd.Flags().StringVar(&token, "token", "", "GitHub token (default $GITHUB_TOKEN)")
	cmd.Flags().StringVar(&sha, "sha", "", "commit SHA (default the working tree's HEAD)")
	cmd.Flags().StringVar(&state, "state", "", "pending, error, failure or success")
	cmd.Flags().StringVar(&statusContext, "context", "", "status context, e.g. ci/build")
	cmd.Flags().StringVar(&targetURL, "target-url", "", "URL the status links to")
	cmd.Flags().StringVar(&description, "description", "", "short description")
	return cmd
}

func (a *app) newTargetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List the targets of the config file in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := taskconfig.Load(a.configFile)
			if err != nil {
				return err
			}
			for _, n := range cfg.Names() {
				fmt.Fprintln(cmd.OutOrStdout(), n)
			}
			return nil
		},
	}
}

func (a *app) dispatcher() (*githubstatus.Dispatcher, error) {
	commits, err := gitcommit.New(a.cfg.CommitResolver, "")
	if err != nil {
		return nil, err
	}
	factory := githubstatus.GitHubClientFactory(githubstatus.WithBaseURL(a.cfg.APIURL))
	if a.dryRun {
		factory = githubstatus.DryRunClientFactory()
	}
	return githubstatus.New(
		githubstatus.WithLookuper(a.env),
		githubstatus.WithCommitResolver(commits),
		githubstatus.WithClientFactory(factory),
		githubstatus.WithMaxConcurrency(a.cfg.MaxConcurrency),
		githubstatus.WithCallTimeout(a.cfg.CallTimeout),
	), nil
}

// dispatch runs the targets one after another. A failing target does not
// stop the ones after it.
func (a *app) dispatch(ctx context.Context, targets []taskconfig.Named) error {
	d, err := a.dispatcher()
	if err != nil {
		return err
	}

	var notifier notify.Notifier
	if a.cfg.EventsSink != "" && !a.dryRun {
		if notifier, err = notify.NewCloudEvents(a.cfg.EventsSink, name); err != nil {
			return err
		}
	}

	failed := 0
	for _, t := range targets {
		log := clog.FromContext(ctx).With("target", t.Name)
		tctx := clog.WithLogger(ctx, log)
		log.Debugf("Running target %s", t.Name)

		out := d.Run(tctx, t.Target)
		if !out.OK() {
			failed++
		}
		if notifier != nil {
			if err := notifier.Notify(tctx, t.Name, out); err != nil {
				log.Warnf("Failed to publish outcome: %v", err)
			}
		}
	}

	if a.cfg.PushgatewayURL != "" && !a.dryRun {
		if err := httpmetrics.Push(ctx, a.cfg.PushgatewayURL, name, nil); err != nil {
			clog.FromContext(ctx).Warnf("%v", err)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", errFailed, failed, len(targets))
	}
	return nil
}
