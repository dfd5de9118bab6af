package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/allaspectsdev/mallard/internal/config"
	"github.com/allaspectsdev/mallard/internal/vault"
	"golang.org/x/term"
)

func cmdKeys(args []string) {
	if len(args) < 2 {
		fmt.Println("Usage: mallard keys <get|set|delete> <realm>")
		os.Exit(1)
	}

	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	v := vault.New(cfg.Vault.ServiceName)
	realm := strings.ToLower(args[1])

	switch args[0] {
	case "get":
		_, ok, err := v.LoadSeed(realm)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading seed: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			fmt.Printf("no seed stored for realm %q\n", realm)
			return
		}
		fmt.Printf("seed stored for realm %q: ****\n", realm)

	case "set":
		fmt.Printf("Enter seed refresh token for realm %q: ", realm)
		token, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading token: %v\n", err)
			os.Exit(1)
		}
		if err := v.SaveSeed(realm, string(token)); err != nil {
			fmt.Fprintf(os.Stderr, "error storing seed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("seed for realm %q stored successfully\n", realm)

	case "delete":
		if err := v.Delete(realm); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting seed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("seed for realm %q deleted\n", realm)

	default:
		fmt.Fprintf(os.Stderr, "unknown keys command: %s\n", args[0])
		os.Exit(1)
	}
}
