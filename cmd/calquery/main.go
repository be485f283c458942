package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/beekhof/calendar-datasource/internal/auth"
	"github.com/beekhof/calendar-datasource/internal/calendar"
	"github.com/beekhof/calendar-datasource/internal/config"
	"github.com/beekhof/calendar-datasource/internal/datasource"
	"github.com/beekhof/calendar-datasource/internal/frame"
	"github.com/beekhof/calendar-datasource/internal/server"
)

func printHelp() {
	fmt.Fprintf(os.Stderr, `Calendar Datasource

Read-only Google Calendar datasource for dashboards. Fetches events in a time
range, shapes them into tabular frames and answers template-variable queries.

USAGE:
    %s [OPTIONS]

OPTIONS:
    -h, --help                        Show this help message and exit
    -v, --verbose                     Enable verbose output (show DEBUG logs)
    --config FILE                     Path to a JSON, YAML or TOML config file (optional)
    --client-id ID                    OAuth client id
                                      (overrides config file and GCAL_CLIENT_ID env var)
    --credentials-path PATH           Path to Google OAuth credentials JSON file
                                      (overrides config file and GCAL_CREDENTIALS_PATH env var)
    --service-account-key-file PATH   Service account key; replaces interactive consent
                                      (overrides config file and GCAL_SERVICE_ACCOUNT_KEY_FILE env var)
    --calendar IDS                    Comma-separated calendar ids to query
                                      (default: the configured default calendar, "primary")
    --timezone ZONE                   IANA zone event times are read in (default: local)
    --from TIME                       Start of the range, RFC3339 (default: 7 days ago)
    --to TIME                         End of the range, RFC3339 (default: 7 days from now)
    --query QUERY                     Evaluate a variable query instead of listing events
    --format FORMAT                   Output format: table, json or ics (default: table)
    --health                          Run the connectivity check and exit
    --serve                           Serve the HTTP endpoints on the listen address
    --listen ADDR                     Listen address for --serve (default: 127.0.0.1:3838)

CONFIGURATION PRECEDENCE (highest to lowest):
    1. Command-line flags
    2. Environment variables (GCAL_CLIENT_ID, GCAL_CREDENTIALS_PATH,
       GCAL_SERVICE_ACCOUNT_KEY_FILE, GCAL_DEFAULT_CALENDAR_ID, GCAL_TIMEZONE, GCAL_LISTEN)
    3. Config file (--config)
    4. Defaults

VARIABLE QUERIES:
    events([calendarId,] fieldPath, filter)       field of every matching event
    start([calendarId,] format, offset, filter)   start of one event
    end([calendarId,] format, offset, filter)     end of one event
    range([calendarId,] format, offset, filter)   duration of one event

    format is "offset" or "-offset" for a seconds offset, or a strftime pattern.

EXAMPLES:
    # List this fortnight's events of the primary calendar
    %s --credentials-path /path/to/credentials.json

    # Organizers of every standup this week
    %s --config config.yaml --query "events(organizer.displayName, standup)"

    # Serve the dashboard endpoints
    %s --config config.yaml --serve

`, os.Args[0], os.Args[0], os.Args[0], os.Args[0])
}

func main() {
	helpFlag := flag.Bool("help", false, "Show help message")
	helpFlagShort := flag.Bool("h", false, "Show help message (shorthand)")
	verboseFlag := flag.Bool("verbose", false, "Enable verbose output (show DEBUG logs)")
	verboseFlagShort := flag.Bool("v", false, "Enable verbose output (shorthand)")
	configFile := flag.String("config", "", "Path to a JSON, YAML or TOML config file (optional)")
	clientID := flag.String("client-id", "", "OAuth client id (overrides config file and GCAL_CLIENT_ID env var)")
	credentialsPath := flag.String("credentials-path", "", "Path to Google OAuth credentials JSON file (overrides config file and GCAL_CREDENTIALS_PATH env var)")
	serviceAccountKeyFile := flag.String("service-account-key-file", "", "Service account key file (overrides config file and GCAL_SERVICE_ACCOUNT_KEY_FILE env var)")
	calendars := flag.String("calendar", "", "Comma-separated calendar ids to query")
	timezone := flag.String("timezone", "", "IANA zone event times are read in")
	fromFlag := flag.String("from", "", "Start of the range, RFC3339")
	toFlag := flag.String("to", "", "End of the range, RFC3339")
	query := flag.String("query", "", "Evaluate a variable query")
	format := flag.String("format", "table", "Output format: table, json or ics")
	health := flag.Bool("health", false, "Run the connectivity check and exit")
	serve := flag.Bool("serve", false, "Serve the HTTP endpoints")
	listen := flag.String("listen", "", "Listen address for --serve")
	flag.Parse()

	if *helpFlag || *helpFlagShort {
		printHelp()
		os.Exit(0)
	}

	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	if *verboseFlag || *verboseFlagShort {
		logger = level.NewFilter(logger, level.AllowDebug())
	} else {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	fatal := func(msg string, err error) {
		level.Error(logger).Log("msg", msg, "err", err)
		os.Exit(1)
	}

	// Load configuration (precedence: flags > env vars > config file > defaults)
	cfg, err := config.LoadConfig(*configFile, config.Config{
		ClientID:              *clientID,
		CredentialsPath:       *credentialsPath,
		ServiceAccountKeyFile: *serviceAccountKeyFile,
		Timezone:              *timezone,
		Listen:                *listen,
	})
	if err != nil {
		fatal("failed to load config", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		fatal("failed to load timezone", err)
	}

	tr, err := parseRange(*fromFlag, *toFlag, time.Now())
	if err != nil {
		fatal("invalid range", err)
	}

	session := auth.NewSession(auth.Config{
		ClientID:              cfg.ClientID,
		ClientSecret:          cfg.ClientSecret,
		ServiceAccountKeyFile: cfg.ServiceAccountKeyFile,
		Consenter:             &auth.LoopbackConsenter{Addr: cfg.ConsentAddr},
		Logger:                logger,
	})
	ds := datasource.New(datasource.Options{
		Auth:              session,
		Normalizer:        calendar.Normalizer{Location: loc},
		DefaultCalendarID: cfg.DefaultCalendarID,
		Logger:            logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *health:
		res := ds.CheckHealth(ctx)
		fmt.Printf("%s: %s\n", res.Status, res.Message)
		if res.Status != datasource.HealthOK {
			os.Exit(1)
		}

	case *serve:
		if err := server.New(ds, logger).Run(ctx, cfg.Listen); err != nil {
			fatal("server failed", err)
		}

	case *query != "":
		values, err := ds.MetricFindQuery(ctx, *query, datasource.VariableOptions{Range: tr})
		if err != nil {
			fatal("variable query failed", err)
		}
		if *format == "json" {
			writeJSON(values)
			return
		}
		for _, v := range values {
			fmt.Println(v.Text)
		}

	default:
		ids := calendarIDs(*calendars, cfg.DefaultCalendarID)
		if err := listEvents(ctx, ds, ids, tr, *format); err != nil {
			fatal("query failed", err)
		}
	}
}

func listEvents(ctx context.Context, ds *datasource.DataSource, ids []string, tr datasource.TimeRange, format string) error {
	switch format {
	case "ics":
		var events []calendar.NormalizedEvent
		for _, id := range ids {
			evs, err := ds.Events(ctx, id, tr)
			if err != nil {
				return err
			}
			events = append(events, evs...)
		}
		calendar.SortByStart(events)
		return frame.WriteICS(os.Stdout, events, ds.Now())

	case "json", "table":
		req := datasource.QueryRequest{Range: tr}
		for _, id := range ids {
			req.Targets = append(req.Targets, datasource.Target{RefID: id, CalendarID: id})
		}
		resp, err := ds.Query(ctx, req)
		if err != nil {
			return err
		}
		if format == "json" {
			writeJSON(resp)
			return nil
		}
		for _, f := range resp.Data {
			fmt.Printf("%s\n", f.RefID)
			f.WriteTable(os.Stdout)
		}
		return nil

	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func calendarIDs(flagValue, fallback string) []string {
	var ids []string
	for _, id := range strings.Split(flagValue, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		ids = []string{fallback}
	}
	return ids
}

func parseRange(from, to string, now time.Time) (datasource.TimeRange, error) {
	tr := datasource.TimeRange{From: now.AddDate(0, 0, -7), To: now.AddDate(0, 0, 7)}
	var err error
	if from != "" {
		if tr.From, err = time.Parse(time.RFC3339, from); err != nil {
			return tr, fmt.Errorf("failed to parse --from: %w", err)
		}
	}
	if to != "" {
		if tr.To, err = time.Parse(time.RFC3339, to); err != nil {
			return tr, fmt.Errorf("failed to parse --to: %w", err)
		}
	}
	if !tr.From.Before(tr.To) {
		return tr, fmt.Errorf("--from %s is not before --to %s", tr.From.Format(time.RFC3339), tr.To.Format(time.RFC3339))
	}
	return tr, nil
}

func writeJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode output: %v\n", err)
	}
}
