package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/lazypower/curator/internal/engine"
	"github.com/lazypower/curator/internal/playbook"
	"github.com/lazypower/curator/internal/store"
	"github.com/spf13/cobra"
)

func init() {
	mergeCmd.Flags().StringVar(&mergeAt, "at", "", "Merge timestamp (RFC3339, default now)")

	retrieveCmd.Flags().StringVarP(&retrieveTask, "task-type", "t", "", "Task type to filter by")
	retrieveCmd.Flags().IntVarP(&retrieveTopK, "top-k", "n", 10, "Maximum number of bullets")
	retrieveCmd.Flags().StringVar(&retrieveAt, "at", "", "Retrieval timestamp (RFC3339, default now)")

	archiveCmd.Flags().StringVar(&archiveAt, "at", "", "Sweep timestamp (RFC3339, default now)")

	statsCmd.Flags().StringVar(&statsAt, "at", "", "Stats timestamp (RFC3339, default now)")

	listCmd.Flags().StringVarP(&listState, "state", "s", "active", "Which bullets to list: active or archived")
}

// openEngine opens the database and loads the playbook for one-shot commands.
// Callers must close eng.DB when done.
func openEngine() (*engine.Engine, error) {
	dbPath := os.Getenv("CURATOR_DB")
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, err
		}
	}
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	eng, err := engine.Load(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return eng, nil
}

// readInput reads from the named file, or stdin when no file (or "-") is given.
func readInput(args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(args[0])
}

func parseAtFlag(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --at timestamp: %w", err)
	}
	return t, nil
}

// --- merge command ---

var mergeAt string

var mergeCmd = &cobra.Command{
	Use:   "merge [file]",
	Short: "Merge delta bullets into the playbook",
	Long:  "Merge a JSON array of delta bullets from a file (or stdin). Deltas matching an existing bullet reinforce it; the rest are added as new bullets.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runMerge,
}

func runMerge(cmd *cobra.Command, args []string) error {
	data, err := readInput(args)
	if err != nil {
		return fmt.Errorf("read deltas: %w", err)
	}

	var deltas []*playbook.Bullet
	if err := json.Unmarshal(data, &deltas); err != nil {
		return fmt.Errorf("parse deltas: %w", err)
	}
	if len(deltas) == 0 {
		return fmt.Errorf("no deltas to merge")
	}
	for i, d := range deltas {
		if d == nil || d.Content == "" {
			return fmt.Errorf("delta %d: content required", i)
		}
		if d.HelpfulCount < 0 || d.HarmfulCount < 0 {
			return fmt.Errorf("delta %d: counts must be >= 0", i)
		}
	}

	at, err := parseAtFlag(mergeAt)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer eng.DB.Close()

	reinforced, added, err := eng.Merge(deltas, at)
	if err != nil {
		return fmt.Errorf("merge: %w", err)
	}

	fmt.Printf("merged %d deltas: %d reinforced, %d added (%d active)\n",
		len(deltas), reinforced, added, len(eng.Curator.Active()))
	return nil
}

// --- retrieve command ---

var (
	retrieveTask string
	retrieveTopK int
	retrieveAt   string
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Retrieve the most relevant bullets",
	Long:  "Rank active bullets by relevance and print the top ones. Returned bullets are marked used, which feeds back into future rankings.",
	RunE:  runRetrieve,
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	at, err := parseAtFlag(retrieveAt)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer eng.DB.Close()

	bullets, err := eng.Retrieve(retrieveTask, retrieveTopK, at)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}

	if len(bullets) == 0 {
		fmt.Println("No bullets to retrieve.")
		return nil
	}

	for i, b := range bullets {
		fmt.Printf("%d. [%s] %s\n", i+1, b.ID, b.Content)
		fmt.Printf("   helpful=%d harmful=%d", b.HelpfulCount, b.HarmfulCount)
		if b.BulletType != "" {
			fmt.Printf(" type=%s", b.BulletType)
		}
		fmt.Println()
	}
	return nil
}

// --- archive command ---

var archiveAt string

var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Archive stale bullets",
	Long:  "Move bullets past the inactivity cutoff (or with decayed recency) out of the active playbook.",
	RunE:  runArchive,
}

func runArchive(cmd *cobra.Command, args []string) error {
	at, err := parseAtFlag(archiveAt)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer eng.DB.Close()

	res, err := eng.ArchiveSweep(at)
	if err != nil {
		return fmt.Errorf("archive sweep: %w", err)
	}

	fmt.Printf("archived %d bullets, %d still active\n", res.ArchivedCount, res.ActiveCount)
	for _, b := range res.Archived {
		fmt.Printf("  - %s\n", b.Content)
	}
	return nil
}

// --- stats command ---

var statsAt string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show playbook temporal stats",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	at, err := parseAtFlag(statsAt)
	if err != nil {
		return err
	}

	eng, err := openEngine()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer eng.DB.Close()

	s := eng.Stats(at)
	fmt.Printf("Playbook stats (%d active bullets):\n", s.TotalBullets)
	fmt.Printf("  avg recency:    %.3f\n", s.AvgRecency)
	fmt.Printf("  avg frequency:  %.3f\n", s.AvgFrequency)
	fmt.Printf("  avg relevance:  %.3f\n", s.AvgRelevance)
	fmt.Printf("  avg age:        %.1f days\n", s.AvgAgeDays)
	fmt.Printf("  avg inactive:   %.1f days\n", s.AvgInactiveDays)
	fmt.Printf("  stale:          %d\n", s.StaleBullets)
	return nil
}

// --- list command ---

var listState string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List bullets",
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer eng.DB.Close()

	var bullets []*playbook.Bullet
	switch listState {
	case "active":
		bullets = eng.Curator.Active()
	case "archived":
		bullets = eng.Curator.Archived()
	default:
		return fmt.Errorf("unknown state %q (want active or archived)", listState)
	}

	if len(bullets) == 0 {
		fmt.Printf("No %s bullets.\n", listState)
		return nil
	}

	for _, b := range bullets {
		fmt.Printf("%s  %s\n", b.ID, b.Content)
		fmt.Printf("    helpful=%d harmful=%d uses=%d last_used=%s\n",
			b.HelpfulCount, b.HarmfulCount, len(b.UsageTimeline), b.LastUsedAt.Format("2006-01-02"))
	}
	return nil
}

// --- export command ---

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the full playbook as JSON",
	Long:  "Write the active and archived collections to stdout in the format accepted by import.",
	RunE:  runExport,
}

func runExport(cmd *cobra.Command, args []string) error {
	eng, err := openEngine()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer eng.DB.Close()

	snapshot := struct {
		Active   []*playbook.Bullet `json:"active"`
		Archived []*playbook.Bullet `json:"archived"`
	}{eng.Curator.Active(), eng.Curator.Archived()}

	b, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	fmt.Println(string(b))
	return nil
}

// --- import command ---

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Import a playbook snapshot",
	Long:  "Replace the stored playbook with a snapshot from a file (or stdin). Records are validated strictly; a single bad record aborts the import.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	data, err := readInput(args)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot struct {
		Active   json.RawMessage `json:"active"`
		Archived json.RawMessage `json:"archived"`
	}
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("parse snapshot: %w", err)
	}

	active := []*playbook.Bullet{}
	if len(snapshot.Active) > 0 {
		active, err = playbook.DecodeBullets(snapshot.Active)
		if err != nil {
			return fmt.Errorf("active: %w", err)
		}
	}
	archived := []*playbook.Bullet{}
	if len(snapshot.Archived) > 0 {
		archived, err = playbook.DecodeBullets(snapshot.Archived)
		if err != nil {
			return fmt.Errorf("archived: %w", err)
		}
	}

	eng, err := openEngine()
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer eng.DB.Close()

	if err := eng.Replace(active, archived); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	fmt.Printf("imported %d active, %d archived bullets\n", len(active), len(archived))
	return nil
}
