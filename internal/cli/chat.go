package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var (
	userID    string
	chatModel string
	chatFresh bool
)

const inProcessNote = `
Sessions live in memory for the life of one process. A session made or
switched by this command is gone once it exits and does not carry over to a
later "chat" run; use "chat --new" or "chat --model", or the gateway, for
that.`

var chatCmd = &cobra.Command{
	Use:   "chat [text...]",
	Short: "Send a message and print the reply",
	Long: `Send a message to the current model and print the aggregated reply.
The configured command prefix is added for you. Without arguments every line
read from stdin is sent in turn over the same session. --new and --model
prepare the session in the same process before the first message.`,
	RunE: runChat,
}

var newSessionCmd = &cobra.Command{
	Use:   "new-session",
	Short: "Replace the session with a fresh one",
	Long:  "Replace the session with a fresh one on the current model.\n" + inProcessNote,
	Args:  cobra.NoArgs,
	RunE:  runNewSession,
}

var switchModelCmd = &cobra.Command{
	Use:   "switch-model <keyword>",
	Short: "Switch between the 橘猫 and 黑猫 models",
	Long: `Switch the session to another model. Keywords containing "橘猫" or
"orange" select 橘猫 (Orange Cat), keywords containing "黑猫" or "exotic"
select 黑猫 (Exotic Shorthair).
` + inProcessNote,
	Args: cobra.ExactArgs(1),
	RunE: runSwitchModel,
}

func init() {
	for _, c := range []*cobra.Command{chatCmd, newSessionCmd, switchModelCmd} {
		c.Flags().StringVar(&userID, "user", "local", "user id the session belongs to")
		rootCmd.AddCommand(c)
	}
	chatCmd.Flags().BoolVar(&chatFresh, "new", false, "start a fresh session before chatting")
	chatCmd.Flags().StringVar(&chatModel, "model", "", "switch to the model matching this keyword before chatting")
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if chatFresh {
		fmt.Fprintln(cmd.OutOrStdout(), rt.orch.NewSession(cmd.Context(), userID))
	}
	if chatModel != "" {
		fmt.Fprintln(cmd.OutOrStdout(), rt.orch.SwitchModel(cmd.Context(), userID, chatModel))
	}

	prefix := rt.live.Current().Chat.CommandPrefix
	send := func(text string) {
		reply := rt.orch.Chat(cmd.Context(), userID, prefix+" "+text)
		fmt.Fprintln(cmd.OutOrStdout(), reply)
	}

	if len(args) > 0 {
		send(strings.Join(args, " "))
		return nil
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		send(line)
	}
	return scanner.Err()
}

func runNewSession(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Fprintln(cmd.OutOrStdout(), rt.orch.NewSession(cmd.Context(), userID))
	return nil
}

func runSwitchModel(cmd *cobra.Command, args []string) error {
	rt, err := bootstrap(cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	fmt.Fprintln(cmd.OutOrStdout(), rt.orch.SwitchModel(cmd.Context(), userID, args[0]))
	return nil
}
