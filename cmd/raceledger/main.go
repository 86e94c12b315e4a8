// raceledger - racing server telemetry import and statistics
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/ernie/raceledger/internal/config"
	"github.com/ernie/raceledger/internal/domain"
	"github.com/ernie/raceledger/internal/importer"
	"github.com/ernie/raceledger/internal/snapshot"
	"github.com/ernie/raceledger/internal/storage"
	flag "github.com/spf13/pflag"
)

var version = "dev"

const defaultConfigPath = "/etc/raceledger/config.yml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "import":
		cmdImport(os.Args[2:])
	case "servers":
		cmdServers(os.Args[2:])
	case "server":
		cmdServer(os.Args[2:])
	case "sessions":
		cmdSessions(os.Args[2:])
	case "results":
		cmdResults(os.Args[2:])
	case "bestlaps":
		cmdBestLaps(os.Args[2:])
	case "players":
		cmdPlayers(os.Args[2:])
	case "history":
		cmdHistory(os.Args[2:])
	case "manual":
		cmdManual(os.Args[2:])
	case "importlog":
		cmdImportLog(os.Args[2:])
	case "version":
		fmt.Printf("raceledger %s\n", version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Usage: raceledger <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  import <file> [--server id] [--name n]  Import a telemetry snapshot file (.json or .json.gz)")
	fmt.Println("  import --all                            Import every configured server's snapshot")
	fmt.Println("  servers                                 List known servers")
	fmt.Println("  server info <identifier>                Show a server's import state and counts")
	fmt.Println("  server remove <identifier>              Delete a server and everything imported from it")
	fmt.Println("  sessions <identifier> [--limit N] [--offset N] [--results]")
	fmt.Println("                                          List sessions of a server")
	fmt.Println("  results <session-id> <stage>            Show results of one stage")
	fmt.Println("  bestlaps <steam-id> [--server id]       Show a player's best lap per track")
	fmt.Println("  players [--limit N] [--offset N]        List known players")
	fmt.Println("  history <steam-id> [--server id]        Show a player's result history")
	fmt.Println("  manual add [flags]                      Add an operator-entered result")
	fmt.Println("  manual remove <result-id>               Remove an operator-entered result")
	fmt.Println("  importlog <identifier> [--limit N]      Show recent import attempts")
	fmt.Println("  version                                 Show version")
	fmt.Println("  help                                    Show this help")
	fmt.Println()
	fmt.Println("Global Options:")
	fmt.Println("  --config <path>    Path to configuration file (default /etc/raceledger/config.yml)")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  raceledger import /srv/race/stats.json --server main")
	fmt.Println("  raceledger sessions main --results --limit 10")
	fmt.Println("  raceledger bestlaps 76561198000000001")
	fmt.Println("  raceledger manual add --session 42 --stage race1 --name \"J. Doe\" --position 3 --laps 12 --total 1422000")
}

// openStore loads config and opens the database, exiting on failure
func openStore(configPath string) (*config.Config, *storage.Store) {
	if configPath == "" {
		configPath = defaultConfigPath
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Loading config: %v", err)
	}
	store, err := storage.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Opening database: %v", err)
	}
	return cfg, store
}

func cmdImport(args []string) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	serverID := fs.String("server", "", "server identifier (default: derived from snapshot)")
	serverName := fs.String("name", "", "server display name override")
	all := fs.Bool("all", false, "import every configured server's snapshot")
	fs.Parse(args)

	cfg, store := openStore(*configPath)
	defer store.Close()
	engine := importer.New(store)
	ctx := context.Background()

	if *all {
		if len(cfg.Servers) == 0 {
			log.Fatal("No servers configured")
		}
		for _, ref := range cfg.Servers {
			importOne(ctx, engine, ref.SnapshotPath, ref.Identifier, ref.Name)
		}
		return
	}

	if fs.NArg() < 1 {
		log.Fatal("Usage: raceledger import <file> [--server id] [--name n]")
	}
	importOne(ctx, engine, fs.Arg(0), *serverID, *serverName)
}

func importOne(ctx context.Context, engine *importer.Engine, path, identifier, name string) {
	snap, size, err := snapshot.ReadFile(path)
	if err != nil {
		log.Fatalf("Reading %s: %v", path, err)
	}

	result, err := engine.ImportFile(ctx, importer.ServerRef{
		Identifier: identifier,
		Name:       name,
		FilePath:   path,
		FileSize:   size,
	}, snap)
	if err != nil {
		log.Fatalf("Importing %s: %v", path, err)
	}

	fmt.Printf("%s: %d sessions in file, %d imported, %d updated, %d skipped (%s)\n",
		result.ServerName, result.SessionsInFile, result.Imported, result.Updated,
		result.Skipped, result.Status())
	for _, e := range result.Errors {
		fmt.Printf("  session %d: %s\n", e.SessionIndex, e.Message)
	}
}

func cmdServers(args []string) {
	fs := flag.NewFlagSet("servers", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)

	_, store := openStore(*configPath)
	defer store.Close()

	servers, err := store.GetServers(context.Background())
	if err != nil {
		log.Fatalf("Listing servers: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tIDENTIFIER\tNAME\tLAST IMPORT\tCURSOR")
	for _, srv := range servers {
		lastImport := "never"
		if srv.LastImportAt != nil {
			lastImport = humanize.Time(*srv.LastImportAt)
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n",
			srv.ID, srv.Identifier, srv.Name, lastImport, srv.NextHistoryIndex)
	}
	w.Flush()
}

func cmdServer(args []string) {
	if len(args) < 1 {
		log.Fatal("Usage: raceledger server <info|remove> <identifier>")
	}
	switch args[0] {
	case "info":
		cmdServerInfo(args[1:])
	case "remove":
		cmdServerRemove(args[1:])
	default:
		log.Fatalf("Unknown server subcommand: %s", args[0])
	}
}

func cmdServerInfo(args []string) {
	fs := flag.NewFlagSet("server info", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("Usage: raceledger server info <identifier>")
	}

	_, store := openStore(*configPath)
	defer store.Close()
	ctx := context.Background()

	srv, err := store.GetServerByIdentifier(ctx, fs.Arg(0))
	if err != nil {
		log.Fatalf("Looking up server: %v", err)
	}
	if srv == nil {
		log.Fatalf("No server with identifier %q", fs.Arg(0))
	}

	summary, err := store.GetServerSummary(ctx, srv.ID)
	if err != nil {
		log.Fatalf("Loading server summary: %v", err)
	}

	fmt.Printf("Server:       %s (%s)\n", summary.Name, summary.Identifier)
	fmt.Printf("Snapshot:     %s\n", summary.FilePath)
	fmt.Printf("Sessions:     %d\n", summary.SessionCount)
	fmt.Printf("Players:      %d\n", summary.PlayerCount)
	fmt.Printf("Cursor:       %d\n", summary.NextHistoryIndex)
	if summary.LastImportAt != nil {
		fmt.Printf("Last import:  %s\n", humanize.Time(*summary.LastImportAt))
	} else {
		fmt.Println("Last import:  never")
	}
}

func cmdServerRemove(args []string) {
	fs := flag.NewFlagSet("server remove", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("Usage: raceledger server remove <identifier>")
	}

	_, store := openStore(*configPath)
	defer store.Close()
	ctx := context.Background()

	srv, err := store.GetServerByIdentifier(ctx, fs.Arg(0))
	if err != nil {
		log.Fatalf("Looking up server: %v", err)
	}
	if srv == nil {
		log.Fatalf("No server with identifier %q", fs.Arg(0))
	}
	if err := store.DeleteServer(ctx, srv.ID); err != nil {
		log.Fatalf("Deleting server: %v", err)
	}
	fmt.Printf("Deleted server %s and all imported data\n", srv.Identifier)
}

func cmdSessions(args []string) {
	fs := flag.NewFlagSet("sessions", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	limit := fs.Int("limit", 20, "sessions per page")
	offset := fs.Int("offset", 0, "pagination offset")
	hasResults := fs.Bool("results", false, "only sessions with results")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("Usage: raceledger sessions <identifier>")
	}

	_, store := openStore(*configPath)
	defer store.Close()
	ctx := context.Background()

	srv, err := store.GetServerByIdentifier(ctx, fs.Arg(0))
	if err != nil {
		log.Fatalf("Looking up server: %v", err)
	}
	if srv == nil {
		log.Fatalf("No server with identifier %q", fs.Arg(0))
	}

	sessions, err := store.GetSessions(ctx, srv.ID, storage.SessionFilter{
		Limit:      *limit,
		Offset:     *offset,
		HasResults: *hasResults,
	})
	if err != nil {
		log.Fatalf("Listing sessions: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tINDEX\tTRACK\tSTARTED\tFINISHED\tPARTICIPANTS\tRESULTS")
	for _, sess := range sessions {
		fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%t\t%d\t%d\n",
			sess.ID, sess.SessionIndex, sess.Track, humanize.Time(sess.StartTime),
			sess.Finished, sess.ParticipantCount, sess.ResultCount)
	}
	w.Flush()
}

func cmdResults(args []string) {
	fs := flag.NewFlagSet("results", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)
	if fs.NArg() < 2 {
		log.Fatal("Usage: raceledger results <session-id> <stage>")
	}

	_, store := openStore(*configPath)
	defer store.Close()

	var sessionID int64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &sessionID); err != nil {
		log.Fatalf("Invalid session id %q", fs.Arg(0))
	}

	results, err := store.GetStageResults(context.Background(), sessionID, fs.Arg(1))
	if err != nil {
		log.Fatalf("Loading results: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "POS\tNAME\tLAPS\tFASTEST\tTOTAL\tSTATE\tMANUAL")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\t%t\n",
			r.Position, r.Name, r.LapsDone,
			snapshot.FormatLapTime(r.FastestLapMs), snapshot.FormatLapTime(r.TotalTimeMs),
			r.State, r.IsManual)
	}
	w.Flush()
}

func cmdBestLaps(args []string) {
	fs := flag.NewFlagSet("bestlaps", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	serverIdent := fs.String("server", "", "restrict to one server identifier")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("Usage: raceledger bestlaps <steam-id>")
	}

	_, store := openStore(*configPath)
	defer store.Close()
	ctx := context.Background()

	player, serverID := lookupPlayerAndServer(ctx, store, fs.Arg(0), *serverIdent)
	laps, err := store.GetPlayerBestLaps(ctx, player.ID, serverID)
	if err != nil {
		log.Fatalf("Loading best laps: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TRACK\tBEST LAP\tSESSION\tSTAGE")
	for _, bl := range laps {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n",
			bl.Track, snapshot.FormatLapTime(bl.FastestLapMs), bl.SessionID, bl.StageName)
	}
	w.Flush()
}

func cmdPlayers(args []string) {
	fs := flag.NewFlagSet("players", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	limit := fs.Int("limit", 50, "players per page")
	offset := fs.Int("offset", 0, "pagination offset")
	fs.Parse(args)

	_, store := openStore(*configPath)
	defer store.Close()

	players, total, err := store.GetPlayers(context.Background(), *limit, *offset)
	if err != nil {
		log.Fatalf("Listing players: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTEAM ID\tNAME\tFIRST SEEN\tLAST SEEN")
	for _, p := range players {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			p.ID, p.SteamID, p.Name, humanize.Time(p.FirstSeen), humanize.Time(p.LastSeen))
	}
	w.Flush()
	fmt.Printf("%d of %d players\n", len(players), total)
}

func cmdHistory(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	serverIdent := fs.String("server", "", "restrict to one server identifier")
	limit := fs.Int("limit", 50, "maximum results")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("Usage: raceledger history <steam-id>")
	}

	_, store := openStore(*configPath)
	defer store.Close()
	ctx := context.Background()

	player, serverID := lookupPlayerAndServer(ctx, store, fs.Arg(0), *serverIdent)
	results, err := store.GetPlayerResults(ctx, player.ID, serverID, *limit)
	if err != nil {
		log.Fatalf("Loading history: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTAGE\tTRACK\tSTARTED\tPOS\tLAPS\tFASTEST\tSTATE")
	for _, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
			r.SessionIndex, r.StageName, r.Track, humanize.Time(r.StartTime),
			r.Position, r.LapsDone, snapshot.FormatLapTime(r.FastestLapMs), r.State)
	}
	w.Flush()
}

func cmdManual(args []string) {
	if len(args) < 1 {
		log.Fatal("Usage: raceledger manual <add|remove> ...")
	}
	switch args[0] {
	case "add":
		cmdManualAdd(args[1:])
	case "remove":
		cmdManualRemove(args[1:])
	default:
		log.Fatalf("Unknown manual subcommand: %s", args[0])
	}
}

func cmdManualAdd(args []string) {
	fs := flag.NewFlagSet("manual add", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	sessionID := fs.Int64("session", 0, "session id")
	stage := fs.String("stage", "", "stage name")
	name := fs.String("name", "", "driver name")
	steamID := fs.String("steam-id", "", "driver steam id (optional)")
	position := fs.Int("position", 0, "finishing position")
	state := fs.String("state", "finished", "result state")
	laps := fs.Int("laps", 0, "laps completed")
	fastest := fs.Int64("fastest", 0, "fastest lap in milliseconds (optional)")
	total := fs.Int64("total", 0, "total time in milliseconds")
	fs.Parse(args)

	if *sessionID == 0 || *stage == "" || *name == "" || *position == 0 {
		log.Fatal("manual add requires --session, --stage, --name, and --position")
	}

	_, store := openStore(*configPath)
	defer store.Close()

	row, err := store.InsertManualResult(context.Background(), storage.ManualResult{
		SessionID:      *sessionID,
		StageName:      *stage,
		Name:           *name,
		SteamID:        *steamID,
		Position:       *position,
		State:          *state,
		LapsCompleted:  *laps,
		FastestLapTime: *fastest,
		TotalTime:      *total,
	})
	if err != nil {
		log.Fatalf("Adding manual result: %v", err)
	}
	fmt.Printf("Added manual result %d (position %d, %s)\n", row.ID, row.Position, row.Name)
}

func cmdManualRemove(args []string) {
	fs := flag.NewFlagSet("manual remove", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("Usage: raceledger manual remove <result-id>")
	}

	var resultID int64
	if _, err := fmt.Sscanf(fs.Arg(0), "%d", &resultID); err != nil {
		log.Fatalf("Invalid result id %q", fs.Arg(0))
	}

	_, store := openStore(*configPath)
	defer store.Close()

	if err := store.DeleteManualResult(context.Background(), resultID); err != nil {
		log.Fatalf("Removing manual result: %v", err)
	}
	fmt.Printf("Removed manual result %d\n", resultID)
}

func cmdImportLog(args []string) {
	fs := flag.NewFlagSet("importlog", flag.ExitOnError)
	configPath := fs.String("config", "", "path to config file")
	limit := fs.Int("limit", 20, "entries to show")
	fs.Parse(args)
	if fs.NArg() < 1 {
		log.Fatal("Usage: raceledger importlog <identifier>")
	}

	_, store := openStore(*configPath)
	defer store.Close()
	ctx := context.Background()

	srv, err := store.GetServerByIdentifier(ctx, fs.Arg(0))
	if err != nil {
		log.Fatalf("Looking up server: %v", err)
	}
	if srv == nil {
		log.Fatalf("No server with identifier %q", fs.Arg(0))
	}

	entries, err := store.GetImportLog(ctx, srv.ID, *limit)
	if err != nil {
		log.Fatalf("Loading import log: %v", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tFILE\tSIZE\tIN FILE\tIMPORTED\tUPDATED\tSKIPPED\tSTATUS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			humanize.Time(e.CreatedAt), e.FilePath, humanize.Bytes(uint64(e.FileSize)),
			e.SessionsInFile, e.Imported, e.Updated, e.Skipped, e.Status)
	}
	w.Flush()
}

// lookupPlayerAndServer resolves the steam id and optional server
// identifier arguments shared by the player-centric commands
func lookupPlayerAndServer(ctx context.Context, store *storage.Store, steamID, serverIdent string) (*domain.Player, *int64) {
	player, err := store.GetPlayerBySteamID(ctx, steamID)
	if err != nil {
		log.Fatalf("Looking up player: %v", err)
	}
	if player == nil {
		log.Fatalf("No player with steam id %q", steamID)
	}

	var serverID *int64
	if serverIdent != "" {
		srv, err := store.GetServerByIdentifier(ctx, serverIdent)
		if err != nil {
			log.Fatalf("Looking up server: %v", err)
		}
		if srv == nil {
			log.Fatalf("No server with identifier %q", serverIdent)
		}
		serverID = &srv.ID
	}
	return player, serverID
}
