package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/dvloznov/payscan/internal/client"
	"github.com/dvloznov/payscan/internal/domain"
	"github.com/dvloznov/payscan/internal/ingest"
	"github.com/dvloznov/payscan/internal/logger"
	"github.com/dvloznov/payscan/internal/view"
)

const defaultServerURL = "http://localhost:8080"

func main() {
	_ = godotenv.Load()
	log := logger.NewWithOptions(logger.Options{Level: os.Getenv("LOG_LEVEL")})

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "scan":
		runScan(log)
	case "list":
		runList(log)
	case "delete":
		runDelete(log)
	case "summary":
		runSummary(log)
	case "report":
		runReport(log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("PayScan CLI")
	fmt.Println("\nUsage:")
	fmt.Println("  cli <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  scan      Extract a transaction from a screenshot and save it")
	fmt.Println("  list      List your transactions")
	fmt.Println("  delete    Delete a transaction by ID")
	fmt.Println("  summary   Show credit/debit, method and weekly totals")
	fmt.Println("  report    Print report rows and totals")
	fmt.Println("  help      Show this help message")
	fmt.Println("\nThe server is read from PAYSCAN_URL and the bearer token from PAYSCAN_TOKEN.")
	fmt.Println("Run 'cli <command> -h' for more information on a command.")
}

func newClient(log zerolog.Logger) *client.Client {
	token := os.Getenv("PAYSCAN_TOKEN")
	if token == "" {
		log.Fatal().Msg("Error: PAYSCAN_TOKEN is not set")
	}
	server := os.Getenv("PAYSCAN_URL")
	if server == "" {
		server = defaultServerURL
	}
	return client.New(server, token)
}

// queryFlags registers the list filter flags on fs and returns a parser for
// them.
func queryFlags(fs *flag.FlagSet) func() (view.Query, error) {
	start := fs.String("start", "", "first day, YYYY-MM-DD")
	end := fs.String("end", "", "last day, YYYY-MM-DD")
	minAmount := fs.String("min", "", "minimum amount")
	maxAmount := fs.String("max", "", "maximum amount")
	methods := fs.String("method", "", "comma-separated payment apps")
	types := fs.String("type", "", "comma-separated types (credit, debit)")
	search := fs.String("q", "", "transaction id prefix")
	sortKey := fs.String("sort", "", "dateTime or amount")
	order := fs.String("order", "", "asc or desc")

	return func() (view.Query, error) {
		v := url.Values{}
		set := func(key, value string) {
			if value != "" {
				v.Set(key, value)
			}
		}
		set(view.ParamStart, *start)
		set(view.ParamEnd, *end)
		set(view.ParamMinAmount, *minAmount)
		set(view.ParamMaxAmount, *maxAmount)
		set(view.ParamMethod, *methods)
		set(view.ParamType, *types)
		set(view.ParamSearch, *search)
		set(view.ParamSort, *sortKey)
		set(view.ParamOrder, *order)
		return view.FromValues(v)
	}
}

func runScan(log zerolog.Logger) {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	file := fs.String("file", "", "path to the payment screenshot")
	mimeType := fs.String("mime", "", "image MIME type (detected when empty)")
	setType := fs.String("set-type", "", "override the extracted type (credit, debit)")
	setMethod := fs.String("set-method", "", "override the extracted payment app")
	yes := fs.Bool("yes", false, "save without asking")
	force := fs.Bool("force", false, "save even when the transaction id was already recorded")
	fs.Parse(os.Args[2:])

	if *file == "" {
		log.Fatal().Msg("Error: -file is required")
	}
	image, err := os.ReadFile(*file)
	if err != nil {
		log.Fatal().Err(err).Str("file", *file).Msg("Failed to read screenshot")
	}
	if *mimeType == "" {
		*mimeType = http.DetectContentType(image)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	c := newClient(log)
	loaded, err := c.List(ctx, view.Query{})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load transactions")
	}

	m := ingest.NewMachine(c, c, func() []domain.Record { return loaded }, log)
	m.OnTransition(func(tr ingest.Transition) {
		log.Debug().Str("from", tr.From.String()).Str("to", tr.To.String()).Msg("Ingestion state")
	})

	if err := m.BeginCapture(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start capture")
	}
	draft, err := m.Extract(ctx, image, *mimeType)
	if err != nil {
		log.Fatal().Err(err).Msg("Extraction failed")
	}

	if *setType != "" || *setMethod != "" {
		var txType domain.TransactionType
		if *setType != "" {
			var ok bool
			if txType, ok = domain.ParseTransactionType(*setType); !ok {
				log.Fatal().Str("type", *setType).Msg("Error: -set-type must be credit or debit")
			}
		}
		err := m.UpdateDraft(func(d *domain.Draft) {
			if txType != "" {
				d.Type = txType
			}
			if *setMethod != "" {
				d.Method = domain.NormalizeMethod(*setMethod)
			}
		})
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to edit draft")
		}
		draft, _ = m.Draft()
	}

	printDraft(os.Stdout, draft)
	in := bufio.NewReader(os.Stdin)
	if !*yes && !confirm(in, "Save this transaction?") {
		m.Discard()
		fmt.Println("Discarded.")
		return
	}

	id, err := m.Confirm(ctx)
	if errors.Is(err, ingest.ErrDuplicate) {
		fmt.Printf("A transaction with id %q is already recorded.\n", draft.TransactionID)
		if !*force && !confirm(in, "Save it anyway?") {
			m.Cancel()
			m.Discard()
			fmt.Println("Not saved.")
			return
		}
		id, err = m.ForceSubmit(ctx)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to save transaction")
	}

	fmt.Printf("Saved transaction %s.\n", id)
}

func confirm(in *bufio.Reader, question string) bool {
	fmt.Printf("%s [y/N] ", question)
	answer, err := in.ReadString('\n')
	if err != nil && err != io.EOF {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

func printDraft(w io.Writer, d domain.Draft) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\n=== Extracted Transaction ===")
	fmt.Fprintf(tw, "Amount:\t%s\n", view.FormatINR(d.Amount))
	fmt.Fprintf(tw, "Type:\t%s\n", orDash(string(d.Type)))
	fmt.Fprintf(tw, "Method:\t%s\n", orDash(d.Method))
	fmt.Fprintf(tw, "Date & Time:\t%s\n", d.DateTime.Local().Format("Jan 2, 2006, 3:04 PM"))
	fmt.Fprintf(tw, "Transaction ID:\t%s\n", orDash(d.TransactionID))
	fmt.Fprintf(tw, "Sender:\t%s %s\n", orDash(d.SenderName), d.SenderID)
	fmt.Fprintf(tw, "Receiver:\t%s %s\n", orDash(d.ReceiverName), d.ReceiverID)
	tw.Flush()
	fmt.Fprintln(w)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func runList(log zerolog.Logger) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	parseQuery := queryFlags(fs)
	asJSON := fs.Bool("json", false, "print JSON")
	fs.Parse(os.Args[2:])

	q, err := parseQuery()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid filter")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	records, err := newClient(log).List(ctx, q)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to list transactions")
	}

	if *asJSON {
		printJSON(records)
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDATE\tAMOUNT\tTYPE\tMETHOD\tTRANSACTION ID\tCOUNTERPARTY")
	for _, r := range records {
		counterparty := r.ReceiverName
		if r.Type == domain.Credit {
			counterparty = r.SenderName
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.DateTime.Local().Format("2006-01-02 15:04"),
			view.FormatINR(r.Amount),
			r.Type,
			orDash(r.Method),
			orDash(r.TransactionID),
			orDash(counterparty),
		)
	}
	tw.Flush()
	fmt.Printf("\n%d transaction(s)\n", len(records))
}

func runDelete(log zerolog.Logger) {
	fs := flag.NewFlagSet("delete", flag.ExitOnError)
	id := fs.String("id", "", "transaction ID to delete")
	fs.Parse(os.Args[2:])

	if *id == "" {
		log.Fatal().Msg("Error: -id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := newClient(log).Delete(ctx, *id); err != nil {
		log.Fatal().Err(err).Str("id", *id).Msg("Failed to delete transaction")
	}
	fmt.Printf("Deleted transaction %s.\n", *id)
}

func runSummary(log zerolog.Logger) {
	fs := flag.NewFlagSet("summary", flag.ExitOnError)
	parseQuery := queryFlags(fs)
	asJSON := fs.Bool("json", false, "print JSON")
	fs.Parse(os.Args[2:])

	q, err := parseQuery()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid filter")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := newClient(log).Summary(ctx, q)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load summary")
	}

	if *asJSON {
		printJSON(s)
		return
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "=== Credit vs Debit ===")
	for _, b := range s.Types {
		fmt.Fprintf(tw, "%s\t%s\t%d%%\n", b.Name, view.FormatINR(b.Value), b.Percent)
	}
	fmt.Fprintln(tw, "\n=== By Payment App ===")
	for _, b := range s.Methods {
		fmt.Fprintf(tw, "%s\t%s\t%d%%\n", b.Name, view.FormatINR(b.Value), b.Percent)
	}
	fmt.Fprintln(tw, "\n=== Last 7 Days ===")
	fmt.Fprintln(tw, "DAY\tCREDIT\tDEBIT")
	for _, d := range s.Week {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Label, view.FormatINR(d.Credit), view.FormatINR(d.Debit))
	}
	tw.Flush()
}

func runReport(log zerolog.Logger) {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	parseQuery := queryFlags(fs)
	asJSON := fs.Bool("json", false, "print JSON")
	fs.Parse(os.Args[2:])

	q, err := parseQuery()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid filter")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	rep, err := newClient(log).Report(ctx, q)
	if errors.Is(err, view.ErrNothingToReport) {
		fmt.Println("No transactions to download!")
		return
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build report")
	}

	if *asJSON {
		printJSON(rep)
		return
	}

	fmt.Println(rep.Title)
	fmt.Printf("Generated: %s\nFilters: %s\n\n", rep.Generated, rep.Filters)

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(rep.Columns, "\t"))
	for _, row := range rep.Rows {
		fmt.Fprintln(tw, strings.Join(row.Cells(), "\t"))
	}
	fmt.Fprintf(tw, "Total\t%s\n", rep.Total)
	tw.Flush()

	fmt.Println("\nSummary")
	fmt.Printf("  Total Credit: %s\n  Total Debit:  %s\n", rep.TotalCredit, rep.TotalDebit)
	for _, mt := range rep.MethodTotals {
		fmt.Printf("  %-12s %s\n", mt.Method+":", mt.Total)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}
