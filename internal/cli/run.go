package cli

import (
	"crypto/ed25519"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/veritrace/veritrace/internal/authority"
	"github.com/veritrace/veritrace/internal/config"
	"github.com/veritrace/veritrace/internal/crypto"
	"github.com/veritrace/veritrace/internal/item"
	"github.com/veritrace/veritrace/internal/ledger"
	"github.com/veritrace/veritrace/internal/store"
	"github.com/veritrace/veritrace/pkg/db/pebble"
	"github.com/veritrace/veritrace/pkg/log"
	"github.com/veritrace/veritrace/pkg/network"
)

// certValidity is how long the node's self-signed certificate lasts; the
// node regenerates it on every start.
const certValidity = 365 * 24 * time.Hour

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a ledger node",
	Long: `Start the node: open the database, restore persisted state, and serve
ledger requests over QUIC. State is written through after every mutation,
so a restart resumes where the node left off.`,
	RunE: runNode,
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := initLogging(cfg); err != nil {
		return err
	}

	prv, err := loadKey(cfg.KeyFile)
	if err != nil {
		return err
	}
	pub := prv.Public().(ed25519.PublicKey)
	self := crypto.ActorIDFromPublicKey(pub)
	log.Root.Info().Str("actor", self.String()).Msg("node identity loaded")

	kv, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer kv.Close() //nolint:errcheck
	st := store.NewLedger(kv)

	auth, items, led, err := restoreState(cfg, st, self)
	if err != nil {
		return err
	}

	svc := network.NewService(network.ServiceConfig{
		Ledger:    led,
		Items:     items,
		Authority: auth,
		Store:     st,
		CacheTTL:  time.Duration(cfg.CacheTTLSeconds) * time.Second,
	})

	cert, err := network.GenerateCertificate(network.CertConfig{
		PublicKey:  pub,
		PrivateKey: prv,
		Validity:   certValidity,
	})
	if err != nil {
		return fmt.Errorf("generate certificate: %w", err)
	}

	transport, err := network.NewTransport(network.TransportConfig{
		TLSCert:       cert,
		ListenAddr:    cfg.ListenAddr,
		Handler:       svc,
		RatePerSecond: cfg.RatePerSecond,
		RateBurst:     cfg.RateBurst,
	})
	if err != nil {
		return err
	}
	if err := transport.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Root.Info().Str("signal", sig.String()).Msg("shutting down")

	if err := transport.Stop(); err != nil {
		return fmt.Errorf("stop transport: %w", err)
	}
	if err := st.SaveSnapshot(led.Snapshot()); err != nil {
		return fmt.Errorf("final snapshot: %w", err)
	}
	return nil
}

func initLogging(cfg config.Node) error {
	level, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logType := log.ConsoleLogger
	if cfg.LogFormat == "json" {
		logType = log.JSONLogger
	}
	log.Init(log.Options{LogLevel: level, Type: logType})
	return nil
}

func openStore(cfg config.Node) (*pebble.KVStore, error) {
	if cfg.DataDir == "" {
		log.Store.Warn().Msg("no data_dir configured, state is ephemeral")
		return pebble.NewKVStore()
	}
	return pebble.NewPersistentKVStore(cfg.DataDir)
}

// restoreState rebuilds the authority set, item registry and ledger from
// storage. A fresh store is seeded from the configuration instead; the
// node's own identity becomes the genesis regulator when none is
// configured.
func restoreState(cfg config.Node, st *store.Ledger, self crypto.ActorID) (*authority.Set, *item.Registry, *ledger.Ledger, error) {
	genesis, found, err := cfg.Regulator()
	if err != nil {
		return nil, nil, nil, err
	}
	if !found {
		genesis = self
		log.Root.Warn().Msg("no genesis_regulator configured, using node identity")
	}
	auth := authority.NewSet(genesis)

	grants, err := st.AllGrants()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load grants: %w", err)
	}
	for _, g := range grants {
		auth.Restore(g.Actor, g.Mask)
	}

	items := item.NewRegistry(auth)
	stored, err := st.AllItems()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load items: %w", err)
	}
	for _, it := range stored {
		items.Restore(it)
	}

	led, err := ledger.New(ledger.Config{
		Authority: auth,
		Items:     items,
		Params:    cfg.Policy,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	items.SetRiskSink(led.MarkItemRisk)

	snap, found, err := st.LoadSnapshot()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load snapshot: %w", err)
	}
	if found {
		if err := led.Restore(snap); err != nil {
			return nil, nil, nil, fmt.Errorf("restore snapshot: %w", err)
		}
		log.Root.Info().
			Uint64("reports", snap.Meta.TotalReports).
			Int("items", len(stored)).
			Msg("state restored")
	}
	return auth, items, led, nil
}

func init() {
	rootCmd.AddCommand(runCmd)
}
