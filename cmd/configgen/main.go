package main

import (
	"flag"
	"log"

	"github.com/teleguys/kannel-sub001/internal/config"
)

func main() {
	kind := flag.String("kind", "gateway", "config kind: gateway")
	output := flag.String("output", "gateway.toml", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "gateway.toml", "config path for validation")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		if *kind != "gateway" {
			log.Fatalf("unknown kind: %s", *kind)
		}
		if _, err := config.LoadGatewayConfig(*input); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, *input)
		return
	}

	if err := config.WriteTemplate(*output, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, *output)
}
