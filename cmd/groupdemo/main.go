// Command groupdemo wires the concrete adapters together and exercises a
// two-member group end to end: distribution, broadcast, and rotation. All
// messages are delivered in order.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/ndr-chat/groupcrypto/internal/aead"
	"github.com/ndr-chat/groupcrypto/internal/config"
	"github.com/ndr-chat/groupcrypto/internal/group"
	"github.com/ndr-chat/groupcrypto/internal/logging"
	"github.com/ndr-chat/groupcrypto/internal/onetomany"
	"github.com/ndr-chat/groupcrypto/internal/storage"
	"github.com/ndr-chat/groupcrypto/internal/transport"
)

var (
	envFile  = flag.String("env", "", "optional .env file to load")
	useAbly  = flag.Bool("ably", false, "use the Ably transport adapter instead of the in-memory bus")
	useSQLite = flag.String("sqlite", "", "path to a SQLite file for group/queue storage instead of in-memory")
)

func main() {
	flag.Parse()
	cfg := config.Load(*envFile)
	logger := logging.New(cfg.LogLevel)

	if *useSQLite != "" {
		cfg.SQLitePath = *useSQLite
	}

	var storageAdapter storage.Adapter
	if cfg.SQLitePath != "" {
		sqliteAdapter, err := storage.NewSQLite(cfg.SQLitePath)
		if err != nil {
			log.Fatalf("open sqlite storage: %v", err)
		}
		storageAdapter = sqliteAdapter
		logger.Infow("using sqlite storage", "path", cfg.SQLitePath)
	} else {
		storageAdapter = storage.NewMemory()
		logger.Infow("using in-memory storage")
	}

	var bus transport.Adapter
	if *useAbly {
		ablyAdapter, err := transport.NewAbly(cfg.AblyAPIKey, cfg.AblyChannel, logger)
		if err != nil {
			log.Fatalf("connect ably transport: %v", err)
		}
		bus = ablyAdapter
		logger.Infow("using ably transport", "channel", cfg.AblyChannel)
	} else {
		bus = transport.NewMemory()
		logger.Infow("using in-memory transport")
	}

	ctx := context.Background()
	members := []string{"alice-owner", "bob-owner"}

	var codec aead.Default
	groupCfg := func() group.Config {
		return group.Config{
			Storage: storageAdapter,
			AEAD:    codec,
			SignerFactory: func() (onetomany.Signer, error) {
				return aead.NewDefaultSigner()
			},
		}
	}

	alice := group.New("demo-group", "alice-owner", "alice-device", members, nil, true, 0, groupCfg())
	bob := group.New("demo-group", "bob-owner", "bob-device", members, nil, true, 0, groupCfg())

	onError := func(err error, opCtx group.OperationContext) {
		logger.Errorw("group operation failed", "op", opCtx.Operation, "group", opCtx.GroupID, "error", err)
	}
	var decryptedCount int
	onDecrypted := func(groupID string, ev group.DecryptedEvent) {
		decryptedCount++
		logger.Infow("decrypted group event", "group", groupID, "content", ev.Inner.Content)
		fmt.Printf("[bob] received: %s\n", ev.Inner.Content)
	}

	// Each member runs its own GroupManager, as a real deployment would (one
	// process per device); alice's manager only ever originates sends, bob's
	// only ever receives.
	mgrAlice := group.NewManager(group.ManagerConfig{Transport: bus, OnError: onError})
	mgrBob := group.NewManager(group.ManagerConfig{
		Transport:        bus,
		OnError:          onError,
		OnDecryptedEvent: onDecrypted,
	})
	if err := mgrAlice.UpsertGroup(ctx, alice); err != nil {
		log.Fatalf("register alice: %v", err)
	}
	if err := mgrBob.UpsertGroup(ctx, bob); err != nil {
		log.Fatalf("register bob: %v", err)
	}

	// alice's pairwise sends are delivered straight to bob's manager, a
	// stand-in for whatever 1:1 session transport a real deployment would
	// use to carry sender-key distributions.
	sendPairwise := func(c context.Context, targetOwnerPubkey string, rumor onetomany.Event) error {
		if targetOwnerPubkey != "bob-owner" {
			return nil
		}
		_, err := mgrBob.HandleIncomingSessionEvent(c, "demo-group", rumor)
		return err
	}
	publishOuter := func(c context.Context, outer onetomany.Event) (onetomany.Event, error) {
		return bus.Publish(c, outer)
	}
	cb := group.SendCallbacks{SendPairwise: sendPairwise, PublishOuter: publishOuter}

	send := func(content string) group.SentEvent {
		sent, err := mgrAlice.SendMessage(ctx, "demo-group", content, cb)
		if err != nil {
			log.Fatalf("send %q: %v", content, err)
		}
		return sent
	}

	send("hello group")
	send("second message")

	logger.Infow("rotating alice's sender key")
	if _, err := mgrAlice.RotateSenderKey(ctx, "demo-group", sendPairwise, 0); err != nil {
		log.Fatalf("rotate: %v", err)
	}
	send("message on the new chain")

	logger.Infow("demo complete", "decryptedEvents", decryptedCount)
}
