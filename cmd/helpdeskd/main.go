// helpdeskd is the IT helpdesk daemon and operator CLI: an interactive chat
// surface for end users plus admin subcommands for incident review, status
// overrides, and knowledge base curation.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/term"

	"helpdesk/pkg/admin"
	"helpdesk/pkg/config"
	"helpdesk/pkg/contextmgr"
	"helpdesk/pkg/embedding"
	"helpdesk/pkg/engine"
	"helpdesk/pkg/incerrors"
	"helpdesk/pkg/kb"
	"helpdesk/pkg/llm"
	"helpdesk/pkg/logx"
	"helpdesk/pkg/metrics"
	"helpdesk/pkg/persistence"
	"helpdesk/pkg/proto"
	"helpdesk/pkg/session"
)

const usage = `Usage: helpdeskd [flags] [command]

Commands:
  chat                      interactive helpdesk conversation (default)
  list [-status STATUS]     list incidents
  show <incident_id>        show one incident in full
  override <incident_id> <status> -m <message>
                            manually override an incident status
  stats                     incident counts per status
  kb show                   print the live knowledge base text
  kb update <file>          replace the knowledge base from a file

Flags:
  -config PATH              config file (YAML)
`

// app bundles the wired components the subcommands share.
type app struct {
	cfg       config.Config
	store     *persistence.Store
	index     *kb.Index
	embedder  embedding.Embedder
	annotator *admin.Annotator
	logger    *logx.Logger
}

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "helpdesk.yaml", "Path to config file (YAML)")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, configPath, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "helpdeskd: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, args []string) error {
	if err := config.LoadConfig(configPath); err != nil {
		return err
	}
	cfg, err := config.GetConfig()
	if err != nil {
		return err
	}

	store, err := persistence.Open(cfg.Storage.DatabasePath)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	a := &app{
		cfg:    cfg,
		store:  store,
		logger: logx.NewLogger("helpdeskd"),
	}
	// Store-only commands stay usable without embedding credentials; the
	// KB stack is wired only where retrieval or indexing happens.
	a.annotator = admin.NewAnnotator(store, nil)

	command := "chat"
	if len(args) > 0 {
		command = args[0]
		args = args[1:]
	}

	switch command {
	case "chat":
		if err := a.buildKBStack(); err != nil {
			return err
		}
		if err := a.loadKnowledgeBase(ctx); err != nil {
			return err
		}
		return a.runChat(ctx)
	case "list":
		return a.runList(args)
	case "show":
		return a.runShow(args)
	case "override":
		return a.runOverride(args)
	case "stats":
		return a.runStats()
	case "kb":
		if len(args) > 0 && args[0] == "update" {
			if err := a.buildKBStack(); err != nil {
				return err
			}
		}
		return a.runKB(ctx, args)
	default:
		flag.Usage()
		return fmt.Errorf("unknown command: %q", command)
	}
}

// buildKBStack wires the embedder and KB index and rebuilds the annotator
// over them.
func (a *app) buildKBStack() error {
	embedder, err := embedding.NewEmbedder(&a.cfg.Embedding)
	if err != nil {
		return err
	}
	a.embedder = embedder
	a.index = kb.NewIndex(embedder)
	a.annotator = admin.NewAnnotator(a.store, a.index)
	return nil
}

// loadKnowledgeBase restores the last indexed KB text from the store, falling
// back to the seed file from config on a fresh database.
func (a *app) loadKnowledgeBase(ctx context.Context) error {
	text, generation, err := a.store.GetKBText()
	if err == nil {
		count, reErr := a.index.Reindex(ctx, text)
		if reErr != nil {
			return reErr
		}
		a.logger.Info("📚 Restored knowledge base: %d entries (stored generation %d)", count, generation)
		metrics.KBEntries.Set(float64(count))
		return nil
	}
	if !incerrors.Is(err, incerrors.KindNotFound) {
		return err
	}

	seed, readErr := os.ReadFile(a.cfg.Storage.KBPath)
	if readErr != nil {
		if os.IsNotExist(readErr) {
			a.logger.Warn("No knowledge base found; every incident will go to admin review until one is loaded")
			return nil
		}
		return fmt.Errorf("failed to read KB seed file: %w", readErr)
	}

	count, err := a.annotator.UpdateKnowledgeBase(ctx, string(seed))
	if err != nil {
		return err
	}
	a.logger.Info("📚 Seeded knowledge base from %s: %d entries", a.cfg.Storage.KBPath, count)
	return nil
}

func (a *app) runChat(ctx context.Context) error {
	client, err := llm.NewClient(&a.cfg.LLM)
	if err != nil {
		return err
	}

	retriever := kb.NewRetriever(a.index, a.embedder, a.cfg.Retrieval.SimilarityMin, a.cfg.Retrieval.FailOpen)
	eng := engine.New(a.store, retriever, client, nil)

	counter, err := contextmgr.NewTokenCounter()
	if err != nil {
		a.logger.Warn("Tokenizer unavailable, using approximate token counts: %v", err)
		counter = nil
	}
	sessions := session.NewStore(eng, a.store, counter, a.cfg.Session.IdleTimeout, a.cfg.Session.HistoryTokenBudget)

	if a.cfg.Metrics.Enabled {
		metrics.Serve(a.cfg.Metrics.Addr)
	}
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sessions.PruneExpired()
			}
		}
	}()

	sessionID := uuid.NewString()[:8]
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Printf("🎧 IT Helpdesk (model %s). Describe your problem, /end to finish, /quit to exit.\n", client.ModelName())
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Print("you> ")
		}
		if !scanner.Scan() {
			break
		}
		if ctx.Err() != nil {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit":
			_ = sessions.EndSession(sessionID)
			return nil
		case line == "/end":
			if err := sessions.EndSession(sessionID); err != nil {
				fmt.Printf("(no active session)\n")
			} else {
				fmt.Printf("Session ended. Your next message starts fresh.\n")
			}
			sessionID = uuid.NewString()[:8]
			continue
		case line == "/id":
			if incidentID, ok := sessions.IncidentFor(sessionID); ok {
				fmt.Printf("Incident: %s\n", incidentID)
			} else {
				fmt.Printf("No incident yet.\n")
			}
			continue
		}

		reply, err := sessions.StartOrContinue(ctx, sessionID, line)
		if err != nil {
			a.logger.Error("Turn failed: %v", err)
			fmt.Printf("helpdesk> %s\n", incerrors.UserMessage(err))
			continue
		}
		fmt.Printf("helpdesk> %s\n", reply.Text)
	}
	_ = sessions.EndSession(sessionID)
	return scanner.Err()
}

func (a *app) runList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	statusFilter := fs.String("status", "", "Filter by status")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var status proto.Status
	if *statusFilter != "" {
		parsed, err := proto.ParseStatus(strings.ToUpper(*statusFilter))
		if err != nil {
			return err
		}
		status = parsed
	}

	records, err := a.annotator.ListIncidents(status)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No incidents.")
		return nil
	}

	fmt.Printf("%-22s %-22s %-20s %s\n", "INCIDENT", "STATUS", "CREATED", "PROBLEM")
	for _, rec := range records {
		fmt.Printf("%-22s %-22s %-20s %s\n",
			rec.IncidentID, rec.Status,
			rec.CreatedOn.UTC().Format("2006-01-02 15:04:05"),
			truncate(rec.UserDemand, 60))
	}
	return nil
}

func (a *app) runShow(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: helpdeskd show <incident_id>")
	}
	rec, err := a.annotator.GetIncident(args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Incident:   %s\n", rec.IncidentID)
	fmt.Printf("Status:     %s\n", rec.Status)
	fmt.Printf("Problem:    %s\n", rec.UserDemand)
	if rec.KBReference != "" {
		fmt.Printf("KB entry:   %s\n", rec.KBReference)
	} else {
		fmt.Printf("KB entry:   (none)\n")
	}
	fmt.Printf("Created:    %s\n", rec.CreatedOn.UTC().Format(time.RFC3339))
	fmt.Printf("Updated:    %s\n", rec.UpdatedOn.UTC().Format(time.RFC3339))

	if len(rec.Collected) > 0 {
		fmt.Println("\nCollected information:")
		for _, qa := range rec.Collected {
			fmt.Printf("  %s: %s\n", qa.Question, qa.Answer)
		}
	}
	if len(rec.AdminLog) > 0 {
		fmt.Println("\nAdmin interventions:")
		for _, msg := range rec.AdminLog {
			fmt.Printf("  [%s] %s -> %s: %s\n",
				msg.Timestamp.UTC().Format("2006-01-02 15:04"), msg.OldStatus, msg.NewStatus, msg.Message)
		}
	}
	return nil
}

func (a *app) runOverride(args []string) error {
	fs := flag.NewFlagSet("override", flag.ContinueOnError)
	message := fs.String("m", "", "Justification message (required)")

	// Accept flags before or after the positional args.
	var positional []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		positional = append(positional, args[0])
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return err
	}
	positional = append(positional, fs.Args()...)
	if len(positional) != 2 {
		return fmt.Errorf("usage: helpdeskd override <incident_id> <status> -m <message>")
	}

	status, err := proto.ParseStatus(strings.ToUpper(positional[1]))
	if err != nil {
		return err
	}

	rec, err := a.annotator.ApplyOverride(positional[0], status, *message)
	if err != nil {
		return err
	}
	fmt.Printf("Incident %s is now %s (%d audit entries).\n", rec.IncidentID, rec.Status, len(rec.AdminLog))
	return nil
}

func (a *app) runStats() error {
	stats, err := a.annotator.Stats()
	if err != nil {
		return err
	}
	total := 0
	for _, status := range proto.AllStatuses {
		if count, ok := stats[status]; ok {
			fmt.Printf("%-22s %d\n", status, count)
			total += count
		}
	}
	fmt.Printf("%-22s %d\n", "TOTAL", total)
	return nil
}

func (a *app) runKB(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: helpdeskd kb <show|update>")
	}
	switch args[0] {
	case "show":
		text, err := a.annotator.KBText()
		if err != nil {
			return err
		}
		if text == "" {
			fmt.Println("Knowledge base is empty.")
			return nil
		}
		fmt.Print(text)
		return nil
	case "update":
		if len(args) != 2 {
			return fmt.Errorf("usage: helpdeskd kb update <file>")
		}
		content, err := os.ReadFile(args[1])
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[1], err)
		}
		count, err := a.annotator.UpdateKnowledgeBase(ctx, string(content))
		if err != nil {
			return err
		}
		fmt.Printf("Knowledge base updated: %d entries indexed.\n", count)
		return nil
	default:
		return fmt.Errorf("unknown kb subcommand: %q", args[0])
	}
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit-3] + "..."
}
