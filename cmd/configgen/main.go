package main

import (
	"flag"

	"github.com/danmuck/mcpbridge/internal/config"
	"github.com/danmuck/mcpbridge/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	kind := flag.String("kind", "servers", "config kind: servers|bridge")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing server catalog")
	input := flag.String("input", "cmd/mcpbridge/servers.toml", "catalog path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()

	if *validate {
		cat, err := config.LoadCatalog(*input)
		if err != nil {
			log.Fatal().Err(err).Msg("catalog invalid")
		}
		def, _ := cat.Default()
		log.Info().
			Str("path", *input).
			Int("servers", len(cat.Servers)).
			Int("enabled", len(cat.Enabled())).
			Str("default", def.Name).
			Msg("catalog valid")
		return
	}

	target := *output
	if target == "" {
		switch *kind {
		case "servers":
			target = "cmd/mcpbridge/servers.toml"
		case "bridge":
			target = "cmd/mcpbridge/config.toml"
		default:
			log.Fatal().Str("kind", *kind).Msg("unknown kind")
		}
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template failed")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}
