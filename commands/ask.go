package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"medchat-backend/client"
	"medchat-backend/frames"
	"medchat-backend/messages"
	"medchat-backend/parser"
	"medchat-backend/relay"
	"medchat-backend/stream"
)

func newAskCmd(a *app) *cobra.Command {
	var turn client.Turn
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask one question through the relay and print the parsed answer",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore()

			turn.Question = strings.Join(args, " ")
			c := client.New(a.cfg.RelayURL, store, client.WithLogger(a.log))
			errOut := cmd.ErrOrStderr()
			shown := make(map[string]bool)
			res, err := c.Ask(cmd.Context(), turn, func(e stream.Event) {
				switch e.Kind {
				case stream.EventExpertLoading:
					if e.Flag {
						fmt.Fprintf(errOut, "%s is looking at the question...\n", e.ExpertName)
					}
				case stream.EventTempReasoning:
					for _, r := range e.Reasoning {
						if !r.Partial && !shown[r.Tag] {
							shown[r.Tag] = true
							fmt.Fprintf(errOut, "  %s done\n", r.Label)
						}
					}
				}
			})
			if res.Error != nil {
				fmt.Fprintln(cmd.OutOrStdout(), res.Error.Text)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(errOut, "chat %s\n", res.ChatID)
			for _, m := range res.Answers {
				if err := printView(cmd.OutOrStdout(), messages.BuildSections(m), asJSON); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&turn.UserID, "user", messages.GuestUserID, "user id the chat belongs to")
	cmd.Flags().StringVar(&turn.UserEmail, "email", "", "user email sent to the backend")
	cmd.Flags().StringVar(&turn.ChatID, "chat", "", "existing chat id to continue")
	cmd.Flags().StringVar(&turn.ModelType, "model-type", "", "backend model type")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sections as JSON")
	return cmd
}

func newReplayCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "replay <capture.ndjson>",
		Short: "Run a captured backend stream through the relay, processor and parser offline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			proc := stream.NewProcessor(stream.Env{Log: a.log})
			sink := &processorSink{proc: proc}
			if err := relay.New(relay.WithLogger(a.log)).Run(cmd.Context(), f, sink); err != nil {
				return err
			}
			if sink.failed != "" {
				return fmt.Errorf("%w: %s", client.ErrStreamFailed, sink.failed)
			}
			final := proc.BuildFinalMessage()
			if len(final) == 0 {
				return fmt.Errorf("stream produced no answer")
			}
			return printView(cmd.OutOrStdout(), messages.BuildSections(final[0]), asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the sections as JSON")
	return cmd
}

// processorSink feeds relay output straight into a processor, the same
// frames a remote client would decode from the event stream.
type processorSink struct {
	proc   *stream.Processor
	failed string
}

func (s *processorSink) WriteJSON(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var env frames.Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return err
	}
	if env.IsControl() {
		if env.Type == frames.ControlError {
			s.failed = env.Content
		}
		return nil
	}
	s.proc.Process(env)
	return nil
}

func printView(w io.Writer, view messages.SectionsView, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}
	if view.SafetyRequired {
		fmt.Fprintln(w, "!! safety review required")
	}
	for _, r := range view.Reasoning {
		fmt.Fprintf(w, "-- %s --\n%s\n", r.Label, r.Content)
	}
	for _, s := range view.Sections {
		fmt.Fprintf(w, "== %s ==\n", s.Type)
		switch s.Type {
		case parser.SectionDisclaimer:
			if s.Disclaimer == nil {
				continue
			}
			for _, p := range s.Disclaimer.Sections {
				fmt.Fprintf(w, "%s\n", p.Title)
			}
			if s.Disclaimer.Text != "" {
				fmt.Fprintln(w, s.Disclaimer.Text)
			}
			continue
		case parser.SectionReference:
			if s.GapSummary != "" {
				fmt.Fprintf(w, "Gap summary: %s\n", s.GapSummary)
			}
			for _, g := range s.LocalGuidelines {
				fmt.Fprintf(w, "Local guideline: %s\n", g.Name)
			}
		}
		if s.Content != "" {
			fmt.Fprintln(w, s.Content)
		}
		for i, c := range s.Citations {
			line := fmt.Sprintf("[%d] %s", i+1, c.Source)
			if c.Link != "" {
				line += " - " + c.Link
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}
