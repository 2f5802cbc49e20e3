package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"buddyline/internal/buddy"
	"buddyline/internal/channel"
	"buddyline/internal/config"
	"buddyline/internal/conversation"
	"buddyline/internal/secrets"
)

var (
	configPath string

	addrFlag   string
	formatFlag string
	outFlag    string

	profile    buddy.Profile
	dialsFlags struct{ chattiness, intelligence, empathy int }

	apiKeyFlag, modelFlag, baseURLFlag string
)

var rootCmd = &cobra.Command{
	Use:           "buddyline",
	Short:         "buddyline - chat with AI buddies that remember you",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, the Telegram bridge and scheduled reprobing",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat <buddy-id>",
	Short: "Chat with a buddy in the terminal",
	Args:  cobra.ExactArgs(1),
	RunE:  runChat,
}

var buddyCmd = &cobra.Command{
	Use:   "buddy",
	Short: "Manage buddies",
}

var buddyAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a buddy",
	RunE:  runBuddyAdd,
}

var buddyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List buddies",
	RunE:  runBuddyList,
}

var buddyRemoveCmd = &cobra.Command{
	Use:   "remove <buddy-id>",
	Short: "Delete a buddy with its conversation and memories",
	Args:  cobra.ExactArgs(1),
	RunE:  runBuddyRemove,
}

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Probe the generation backends and show which one is selected",
	RunE:  runProbe,
}

var exportCmd = &cobra.Command{
	Use:   "export <buddy-id>",
	Short: "Export a buddy's conversation as json or txt",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var providerCmd = &cobra.Command{
	Use:   "provider <local|openai|anthropic>",
	Short: "Update a backend's settings",
	Args:  cobra.ExactArgs(1),
	RunE:  runProvider,
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage secrets kept outside the config file",
}

var secretSetCmd = &cobra.Command{
	Use:   "set <name> <value>",
	Short: "Store a secret (" + secrets.OpenAIKey + ", " + secrets.AnthropicKey + ", " + secrets.TelegramToken + ")",
	Args:  cobra.ExactArgs(2),
	RunE:  runSecretSet,
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Remove a stored secret",
	Args:  cobra.ExactArgs(1),
	RunE:  runSecretDelete,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show providers, buddies and recent events",
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.buddyline/config.json)")

	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "listen address (overrides http.listen_addr)")

	buddyAddCmd.Flags().StringVar(&profile.Name, "name", "", "buddy name")
	buddyAddCmd.Flags().StringVar(&profile.PersonalityType, "type", "friendly", "personality type")
	buddyAddCmd.Flags().StringVar(&profile.Avatar, "avatar", "", "avatar id")
	buddyAddCmd.Flags().IntVar(&dialsFlags.chattiness, "chattiness", 0, "chattiness 0-10")
	buddyAddCmd.Flags().IntVar(&dialsFlags.intelligence, "intelligence", 0, "intelligence 0-10")
	buddyAddCmd.Flags().IntVar(&dialsFlags.empathy, "empathy", 0, "empathy 0-10")
	buddyAddCmd.MarkFlagRequired("name")
	buddyCmd.AddCommand(buddyAddCmd, buddyListCmd, buddyRemoveCmd)

	exportCmd.Flags().StringVar(&formatFlag, "format", conversation.FormatText, "json or txt")
	exportCmd.Flags().StringVarP(&outFlag, "output", "o", "", "write to file instead of stdout")

	providerCmd.Flags().StringVar(&apiKeyFlag, "api-key", "", "API key (stored in the keyring)")
	providerCmd.Flags().StringVar(&modelFlag, "model", "", "model name")
	providerCmd.Flags().StringVar(&baseURLFlag, "base-url", "", "API base URL")

	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd)

	rootCmd.AddCommand(serveCmd, chatCmd, buddyCmd, probeCmd, exportCmd, providerCmd, secretCmd, statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newLoader() (*config.Loader, error) {
	if configPath != "" {
		return config.NewLoaderAt(configPath)
	}
	return config.NewLoader()
}

// withApp starts an App for the duration of fn. The context passed to fn is
// cancelled on SIGINT or SIGTERM.
func withApp(fn func(ctx context.Context, app *App) error) error {
	loader, err := newLoader()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := NewApp(loader)
	defer app.Shutdown(context.Background())
	if err := app.Startup(ctx); err != nil {
		return err
	}
	return fn(ctx, app)
}

func runServe(cmd *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, app *App) error {
		if err := app.StartReprobe(); err != nil {
			return err
		}
		if err := app.StartChannels(); err != nil {
			return err
		}
		addr := addrFlag
		if addr == "" {
			addr = app.cfgLoader.Get().HTTP.ListenAddr
		}
		return app.Serve(ctx, addr)
	})
}

func runChat(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, app *App) error {
		b, err := app.Service().GetBuddySettings(ctx, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Chatting with %s (%s). Ctrl-D to quit.\n", b.Name, b.PersonalityType)
		return app.Chat(b, channel.NewConsoleChannel(cmd.InOrStdin(), out, b.Name))
	})
}

func runBuddyAdd(cmd *cobra.Command, _ []string) error {
	p := profile
	flags := cmd.Flags()
	if flags.Changed("chattiness") {
		p.Chattiness = &dialsFlags.chattiness
	}
	if flags.Changed("intelligence") {
		p.Intelligence = &dialsFlags.intelligence
	}
	if flags.Changed("empathy") {
		p.Empathy = &dialsFlags.empathy
	}
	return withApp(func(ctx context.Context, app *App) error {
		b, err := app.Service().AddBuddy(ctx, p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s (%s): %s\n", b.Name, b.PersonalityType, b.ID)
		return nil
	})
}

func runBuddyList(cmd *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, app *App) error {
		list, err := app.Service().GetBuddies(ctx)
		if err != nil {
			return err
		}
		printBuddies(cmd.OutOrStdout(), list)
		return nil
	})
}

func printBuddies(w io.Writer, list []*buddy.Buddy) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tFRIENDSHIP\tMESSAGES")
	for _, b := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", b.ID, b.Name, b.PersonalityType, b.FriendshipScore, b.Stats.MessagesExchanged)
	}
	tw.Flush()
}

func runBuddyRemove(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, app *App) error {
		if err := app.Service().RemoveBuddy(ctx, args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", args[0])
		return nil
	})
}

func runProbe(cmd *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, app *App) error {
		st := app.Service().ProviderState()
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Phase: %s\n", st.Phase)
		for _, name := range app.Service().Backends() {
			mark := "unavailable"
			if st.Availability[name] {
				mark = "available"
			}
			if name == st.Selected {
				mark += " (selected)"
			}
			fmt.Fprintf(out, "  %-10s %s\n", name, mark)
		}
		return nil
	})
}

func runExport(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, app *App) error {
		data, err := app.Service().ExportConversation(ctx, args[0], formatFlag)
		if err != nil {
			return err
		}
		if outFlag == "" {
			_, err = cmd.OutOrStdout().Write(data)
			return err
		}
		return os.WriteFile(outFlag, data, 0600)
	})
}

func runProvider(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, app *App) error {
		if err := app.SaveProviderConfig(args[0], apiKeyFlag, modelFlag, baseURLFlag); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Saved %s settings to %s\n", args[0], app.cfgLoader.FilePath())
		return nil
	})
}

func runSecretSet(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, app *App) error {
		if err := app.secrets.Set(args[0], args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%s)\n", args[0], secrets.MaskKey(args[1]))
		return nil
	})
}

func runSecretDelete(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, app *App) error {
		return app.secrets.Delete(args[0])
	})
}

func runStatus(cmd *cobra.Command, _ []string) error {
	return withApp(func(ctx context.Context, app *App) error {
		list, err := app.Service().GetBuddies(ctx)
		if err != nil {
			return err
		}
		status := map[string]any{
			"providers": app.Service().ProviderState(),
			"buddies":   len(list),
			"channels":  app.GetChannelStatus(),
			"memory":    app.GetMemStats(),
			"events":    app.GetLogs(),
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	})
}
