// Command nakama builds the Off Beat server plugin:
//
//	go build -buildmode=plugin -trimpath -o ./modules/offbeat.so ./cmd/nakama
package main

import (
	"context"
	"database/sql"

	"offbeat/internal/ports/nakama"

	"github.com/heroiclabs/nakama-common/runtime"
)

// version is stamped with -ldflags "-X main.version=...".
var version = "dev"

// InitModule is the entry point Nakama looks up in the plugin.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	logger.WithField("version", version).Info("Loading Off Beat plugin")
	return nakama.InitModule(ctx, logger, db, nk, initializer)
}

// main is never called when loaded as a plugin; it lets `go build ./...` link.
func main() {}
