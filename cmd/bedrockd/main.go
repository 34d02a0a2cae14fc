package main

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/unastar/bedrock-core/internal/auth"
	"github.com/unastar/bedrock-core/internal/logging"
	"github.com/unastar/bedrock-core/internal/protocol"
	"github.com/unastar/bedrock-core/internal/raknet"
	"github.com/unastar/bedrock-core/internal/server"
	"github.com/unastar/bedrock-core/internal/world/generator"
)

const version = "0.1.0"

func main() {
	log := logging.New("bedrockd")
	log.Success("starting bedrockd", logging.Fields{"version": version})

	cfg, err := loadConfig(log)
	if err != nil {
		log.Fatal("failed to load configuration", logging.Fields{"err": err})
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Fatal("failed to construct server", logging.Fields{"err": err})
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run(ctx)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatal("server exited with error", logging.Fields{"err": err})
		}
	case sig := <-sigCh:
		log.Warn("received shutdown signal", logging.Fields{"signal": sig.String()})
		cancel()
		if err := <-errCh; err != nil {
			log.Warn("error during shutdown", logging.Fields{"err": err})
		}
	}

	log.Success("bedrockd stopped", nil)
}

// config environment variables, defaulted the way a small self-hosted
// server expects to be run: no config file, just overrides for the handful
// of settings that matter at boot.
func loadConfig(log *logging.Logger) (server.Config, error) {
	serverKey, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return server.Config{}, err
	}

	cfg := server.Config{
		ListenAddr:            envOr("BEDROCKD_LISTEN_ADDR", "0.0.0.0:19132"),
		TickInterval:          50 * time.Millisecond,
		OutboundCapacity:      1024,
		WorldSeed:             envInt64("BEDROCKD_WORLD_SEED", 0),
		Dimension:             0,
		SpawnPosition:         mgl64.Vec3{0, 64, 0},
		Palette:               defaultPalette(),
		ServerProtocol:        int32(envInt64("BEDROCKD_PROTOCOL_VERSION", 685)),
		CompressionThreshold:  1,
		CompressionLevel:      7,
		EncryptionEnabled:     envBool("BEDROCKD_ENCRYPTION", true),
		ServerKey:             serverKey,
		Validator: auth.New(auth.Options{
			OnlineMode: envBool("BEDROCKD_ONLINE_MODE", true),
			Resolver:   auth.NewJWKSResolver(nil, nil),
		}),
		MinChunkRadius:        4,
		MaxChunkRadius:        32,
		ResourcePacksRequired: false,
		BuildBiomes:           func() *protocol.BiomeDefinitionList { return &protocol.BiomeDefinitionList{} },
		RakNet: raknet.ListenerConfig{
			MOTD: envOr("BEDROCKD_MOTD", "A Bedrock Server"),
		},
		StorageDir: envOr("BEDROCKD_STORAGE_DIR", "./world"),
		Log:        log,
	}
	return cfg, nil
}

// defaultPalette maps the surface rule system's material names to stock
// Bedrock block runtime ids. A real deployment would draw these from the
// same block table the session's StartGame payload advertises; this set
// covers only what the generator's surface rules actually emit.
func defaultPalette() generator.Palette {
	return generator.Palette{
		Named: map[string]uint32{
			"stone":       1,
			"dirt":        3,
			"grass_block": 2,
			"sand":        12,
			"bedrock":     7,
		},
		Air:   0,
		Water: 9,
		Lava:  10,
	}
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64(key string, fallback int64) int64 {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
