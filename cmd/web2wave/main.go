package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/web2wave/web2wave-go"
)

func usage() {
	fmt.Println("Usage: web2wave <command> <user> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status <user>                   Print the subscription status response")
	fmt.Println("  subscriptions <user>            Print the subscription list")
	fmt.Println("  active <user>                   Print whether the user has an active subscription")
	fmt.Println("  properties <user>               Print the user properties")
	fmt.Println("  set <user> <property> <value>   Update a user property")
	fmt.Println("  revenuecat <user> <profile id>  Save the RevenueCat profile id")
	fmt.Println("  adapty <user> <profile id>      Save the Adapty profile id")
	fmt.Println("  qonversion <user> <profile id>  Save the Qonversion profile id")
	fmt.Println()
	fmt.Println("The api key is read from WEB2WAVE_API_KEY.")
}

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}
	cfg, err := web2wave.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log, err := web2wave.NewLogger(cfg.LOG_LEVEL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	client, err := web2wave.NewClient(cfg, web2wave.WithLogger(log))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	user, args := os.Args[2], os.Args[3:]
	switch os.Args[1] {
	case "status":
		err = runStatus(ctx, client, user)
	case "subscriptions":
		err = runSubscriptions(ctx, client, user)
	case "active":
		err = runActive(ctx, client, user)
	case "properties":
		err = runProperties(ctx, client, user)
	case "set":
		if len(args) != 2 {
			usage()
			os.Exit(1)
		}
		err = client.UpdateUserProperty(ctx, user, args[0], args[1])
	case "revenuecat", "adapty", "qonversion":
		if len(args) != 1 {
			usage()
			os.Exit(1)
		}
		err = runProfile(ctx, client, os.Args[1], user, args[0])
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runStatus(ctx context.Context, client *web2wave.Client, user string) error {
	resp, err := client.FetchSubscriptionStatus(ctx, user)
	if err != nil {
		return err
	}
	if resp == nil {
		return fmt.Errorf("no subscription status for %s", user)
	}
	return printJSON(resp.Fields)
}

func runSubscriptions(ctx context.Context, client *web2wave.Client, user string) error {
	subs, err := client.FetchSubscriptions(ctx, user)
	if err != nil {
		return err
	}
	return printJSON(subs)
}

func runActive(ctx context.Context, client *web2wave.Client, user string) error {
	active, err := client.HasActiveSubscription(ctx, user)
	if err != nil {
		return err
	}
	fmt.Println(active)
	return nil
}

func runProperties(ctx context.Context, client *web2wave.Client, user string) error {
	props, err := client.FetchUserProperties(ctx, user)
	if err != nil {
		return err
	}
	if props == nil {
		return fmt.Errorf("no properties for %s", user)
	}
	return printJSON(props)
}

func runProfile(ctx context.Context, client *web2wave.Client, provider, user, id string) error {
	switch provider {
	case "revenuecat":
		return client.SetRevenueCatProfileID(ctx, user, id)
	case "adapty":
		return client.SetAdaptyProfileID(ctx, user, id)
	default:
		return client.SetQonversionProfileID(ctx, user, id)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
