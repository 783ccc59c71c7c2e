package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"irisctl/internal/cli"
	"irisctl/internal/iris"
	"irisctl/pkg/logging"
)

// maxConcurrentLookups bounds parallel incident lookups during claim.
const maxConcurrentLookups = 8

// DefaultWatchInterval is how often incidents watch polls.
const DefaultWatchInterval = 30 * time.Second

var (
	incidentsFlags cli.CommandFlags

	listActive   bool
	listInactive bool
	listQuery    []string

	claimByID bool

	watchInterval time.Duration
)

// incidentsCmd represents the incidents command group
var incidentsCmd = &cobra.Command{
	Use:     "incidents",
	Aliases: []string{"incident", "inc"},
	Short:   "List, inspect and claim incidents",
}

var incidentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List incidents",
	Long: `List incidents.

By default only active incidents are listed. Use --inactive to include
claimed incidents, and --active=false --inactive to list only those.
Extra API query parameters can be passed with -Q key=value.

Examples:
  irisctl incidents list
  irisctl incidents list --inactive -o wide
  irisctl incidents list -Q application=grafana -o json`,
	Args: cobra.NoArgs,
	RunE: runIncidentsList,
}

var incidentsGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one incident",
	Long: `Show one incident.

Examples:
  irisctl incidents get 1234 -o yaml
  irisctl incidents get 1234 --template '{{ .title }} ({{ .owner | default "unclaimed" }})'`,
	Args: cobra.ExactArgs(1),
	RunE: runIncidentsGet,
}

var incidentsClaimCmd = &cobra.Command{
	Use:   "claim ID...",
	Short: "Claim incidents",
	Long: `Claim one or more incidents as the logged-in user.

The incidents are looked up first and then claimed in a single request.
With --by-id each incident is claimed with its own request instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIncidentsClaim,
}

var incidentsWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll incidents until interrupted",
	Long: `List incidents every --interval until interrupted.

The list filters are the same as for incidents list. A login completed in
another terminal is picked up without restarting the watch.`,
	Args: cobra.NoArgs,
	RunE: runIncidentsWatch,
}

func init() {
	for _, c := range []*cobra.Command{incidentsListCmd, incidentsWatchCmd} {
		c.Flags().BoolVar(&listActive, "active", true, "Include active incidents")
		c.Flags().BoolVar(&listInactive, "inactive", false, "Include inactive (claimed) incidents")
		c.Flags().StringArrayVarP(&listQuery, "query", "Q", nil, "Extra API query parameter as key=value (repeatable)")
	}
	for _, c := range []*cobra.Command{incidentsListCmd, incidentsGetCmd, incidentsWatchCmd} {
		cli.RegisterOutputFlags(c, &incidentsFlags)
	}
	incidentsClaimCmd.Flags().BoolVar(&claimByID, "by-id", false, "Claim each incident with its own request")
	incidentsClaimCmd.Flags().BoolVarP(&incidentsFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	incidentsWatchCmd.Flags().DurationVar(&watchInterval, "interval", DefaultWatchInterval, "Polling interval")

	incidentsCmd.AddCommand(incidentsListCmd)
	incidentsCmd.AddCommand(incidentsGetCmd)
	incidentsCmd.AddCommand(incidentsClaimCmd)
	incidentsCmd.AddCommand(incidentsWatchCmd)
	rootCmd.AddCommand(incidentsCmd)
}

// listFilters builds the API filters from the list flags.
func listFilters() (iris.Filters, error) {
	filters := iris.Filters{Active: listActive, Inactive: listInactive}
	if len(listQuery) == 0 {
		return filters, nil
	}
	filters.QueryParams = make(map[string]string, len(listQuery))
	for _, kv := range listQuery {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return iris.Filters{}, fmt.Errorf("invalid query parameter %q, expected key=value", kv)
		}
		filters.QueryParams[k] = v
	}
	return filters, nil
}

// parseIncidentIDs converts command arguments to incident ids.
func parseIncidentIDs(args []string) ([]int64, error) {
	ids := make([]int64, len(args))
	for i, arg := range args {
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid incident id %q", arg)
		}
		ids[i] = id
	}
	return ids, nil
}

// printIncidents writes incidents in the format selected by flags.
func printIncidents(w io.Writer, flags cli.CommandFlags, incidents []*iris.Incident) error {
	if flags.Template != "" {
		tpl, err := cli.ParseTemplate("incident", flags.Template)
		if err != nil {
			return err
		}
		for _, inc := range incidents {
			if err := tpl.Execute(w, templateData(inc)); err != nil {
				return fmt.Errorf("rendering --template: %w", err)
			}
			fmt.Fprintln(w)
		}
		return nil
	}

	format, err := flags.Format()
	if err != nil {
		return err
	}
	if ok, err := cli.WriteStructured(w, format, incidents); ok {
		return err
	}
	if len(incidents) == 0 {
		if !flags.Quiet {
			fmt.Fprintln(w, "No incidents found.")
		}
		return nil
	}
	_, noColor := os.LookupEnv("NO_COLOR")
	cli.RenderIncidents(w, incidents, cli.TableOptions{
		Wide:      format == cli.OutputFormatWide,
		NoHeaders: flags.NoHeaders,
		NoColor:   noColor,
	})
	return nil
}

// templateData exposes an incident to templates under its JSON field names.
func templateData(inc *iris.Incident) map[string]interface{} {
	return map[string]interface{}{
		"id":           inc.ID,
		"active":       inc.Active,
		"owner":        inc.Owner,
		"application":  inc.Application,
		"plan":         inc.Plan,
		"plan_id":      inc.PlanID,
		"current_step": inc.CurrentStep,
		"created":      inc.Created,
		"updated":      inc.Updated,
		"title":        inc.Title,
		"context":      inc.Context,
	}
}

func runIncidentsList(cmd *cobra.Command, args []string) error {
	filters, err := listFilters()
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		incidents, err := a.client.GetIncidents(cmd.Context(), filters)
		if err != nil {
			return err
		}
		return printIncidents(cmd.OutOrStdout(), incidentsFlags, incidents)
	})
}

func runIncidentsGet(cmd *cobra.Command, args []string) error {
	ids, err := parseIncidentIDs(args)
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		inc, err := a.client.GetIncident(cmd.Context(), ids[0])
		if err != nil {
			if errors.Is(err, iris.ErrNotFound) {
				return fmt.Errorf("incident %d not found", ids[0])
			}
			return err
		}
		return printIncidents(cmd.OutOrStdout(), incidentsFlags, []*iris.Incident{inc})
	})
}

func runIncidentsClaim(cmd *cobra.Command, args []string) error {
	ids, err := parseIncidentIDs(args)
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		ctx := cmd.Context()
		if claimByID {
			if err := claimEach(ctx, a.client, ids); err != nil {
				return err
			}
		} else {
			incidents, err := resolveIncidents(ctx, a.client, ids)
			if err != nil {
				return err
			}
			if err := a.client.Claim(ctx, incidents); err != nil {
				return err
			}
		}

		if !incidentsFlags.Quiet {
			owner, err := a.profile.Username(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Claimed %d incident(s) as %s\n", len(ids), owner)
		}
		return nil
	})
}

// resolveIncidents looks up ids concurrently, preserving their order.
func resolveIncidents(ctx context.Context, client *iris.Client, ids []int64) ([]*iris.Incident, error) {
	incidents := make([]*iris.Incident, len(ids))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for i, id := range ids {
		g.Go(func() error {
			inc, err := client.GetIncident(ctx, id)
			if err != nil {
				return fmt.Errorf("looking up incident %d: %w", id, err)
			}
			incidents[i] = inc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return incidents, nil
}

// claimEach claims every id with its own request.
func claimEach(ctx context.Context, client *iris.Client, ids []int64) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLookups)
	for _, id := range ids {
		g.Go(func() error {
			if err := client.ClaimByID(ctx, id); err != nil {
				return fmt.Errorf("claiming incident %d: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// storeWatcher is implemented by stores that can follow external writes.
type storeWatcher interface {
	Watch(ctx context.Context) error
}

func runIncidentsWatch(cmd *cobra.Command, args []string) error {
	if watchInterval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}
	filters, err := listFilters()
	if err != nil {
		return err
	}
	return withApp(cmd, func(a *app) error {
		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		if w, ok := a.store.(storeWatcher); ok {
			go func() {
				if err := w.Watch(ctx); err != nil {
					logging.Warn("CLI", "Not following credential changes: %v", err)
				}
			}()
		}

		out := cmd.OutOrStdout()
		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()
		for {
			a.client.ClearIncidents()
			incidents, err := a.client.GetIncidents(ctx, filters)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			if !incidentsFlags.Quiet {
				fmt.Fprintf(out, "\n%s  %d incident(s)\n", time.Now().Format(time.TimeOnly), len(incidents))
			}
			if err := printIncidents(out, incidentsFlags, incidents); err != nil {
				return err
			}

			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
	})
}
