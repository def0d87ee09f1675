package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/rhuss/modelbridge/pkg/api"
	"github.com/rhuss/modelbridge/pkg/provider"
	"github.com/rhuss/modelbridge/pkg/transcoder"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	familyColor = color.New(color.FgGreen)
	toolColor   = color.New(color.FgYellow)
	errorColor  = color.New(color.FgRed)
	dimColor    = color.New(color.Faint)
)

func newRoutesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "routes",
		Short: "List the routing table in resolution order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := opts.bridge()
			if err != nil {
				return err
			}
			printRoutes(cmd.OutOrStdout(), b)
			return nil
		},
	}
}

func printRoutes(w io.Writer, b *bridge) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	headerColor.Fprintln(tw, "MATCH\tTYPE\tFAMILY\tKIND")
	for _, r := range b.router.Routes() {
		typ := "pattern"
		if r.Exact {
			typ = "exact"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Match, typ, familyColor.Sprint(r.Family), r.Kind)
	}
	tw.Flush()
}

func newResolveCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <model>",
		Short: "Show which family serves a model id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := opts.bridge()
			if err != nil {
				return err
			}
			adapter, err := b.router.Resolve(args[0])
			if err != nil {
				return err
			}
			caps := adapter.Capabilities()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s -> %s (%s)\n", args[0], familyColor.Sprint(adapter.Name()), adapter.Kind())
			fmt.Fprintf(out, "  streaming=%t tools=%t vision=%t stop_sequences=%t\n",
				caps.Streaming, caps.ToolCalling, caps.Vision, caps.StopSequences)
			return nil
		},
	}
}

func newEncodeCmd(opts *options) *cobra.Command {
	var file string
	var stream bool
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Print the backend payload a request encodes to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readRequest(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if stream {
				req.Parameters.Stream = true
			}
			b, err := opts.bridge()
			if err != nil {
				return err
			}
			return encodeRequest(cmd.Context(), cmd.OutOrStdout(), b, req)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request JSON file, - for stdin")
	cmd.Flags().BoolVar(&stream, "stream", false, "encode the streaming variant")
	return cmd
}

func encodeRequest(ctx context.Context, w io.Writer, b *bridge, req *api.CanonicalRequest) error {
	if apiErr := api.ValidateRequest(req, validation(b.cfg)); apiErr != nil {
		return apiErr
	}
	adapter, err := b.router.Resolve(req.ModelID)
	if err != nil {
		return err
	}
	if apiErr := provider.ValidateCapabilities(adapter.Capabilities(), req); apiErr != nil {
		return apiErr.WithContext(req.ModelID, adapter.Name())
	}
	payload, err := adapter.EncodeRequest(ctx, req)
	if err != nil {
		return err
	}

	dimColor.Fprintf(w, "# family=%s kind=%s model=%s stream=%t\n", payload.Family, payload.Kind, payload.Model, payload.Stream)
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload.Body, "", "  "); err != nil {
		return fmt.Errorf("formatting payload: %w", err)
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(w)
	return err
}

func newSendCmd(opts *options) *cobra.Command {
	var file string
	var stream bool
	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a request through the configured backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			req, err := readRequest(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			if stream {
				req.Parameters.Stream = true
			}
			b, err := opts.bridge()
			if err != nil {
				return err
			}
			return send(cmd.Context(), cmd.OutOrStdout(), b, req)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "-", "request JSON file, - for stdin")
	cmd.Flags().BoolVar(&stream, "stream", false, "stream the answer chunk by chunk")
	return cmd
}

// send dispatches req and prints the answer. Streamed text is written as it
// arrives; a synchronous answer is printed once complete.
func send(ctx context.Context, w io.Writer, b *bridge, req *api.CanonicalRequest) error {
	var sink transcoder.Sink
	if req.Parameters.Stream {
		sink = transcoder.SinkFunc(func(_ context.Context, c *api.CanonicalChunk) error {
			printChunk(w, c)
			return nil
		})
	}

	resp, err := b.engine.Handle(ctx, req, sink)
	if resp != nil {
		if sink == nil {
			printMessage(w, &resp.Message)
		} else {
			fmt.Fprintln(w)
		}
		printSummary(w, resp)
	}
	return err
}

func printChunk(w io.Writer, c *api.CanonicalChunk) {
	switch {
	case c.Delta.Content != nil && c.Delta.Content.Type == api.ContentText:
		fmt.Fprint(w, c.Delta.Content.Text)
	case c.Delta.ToolCall != nil:
		printToolCall(w, c.Delta.ToolCall)
	}
}

func printMessage(w io.Writer, m *api.CanonicalMessage) {
	if text := m.Text(); text != "" {
		fmt.Fprintln(w, text)
	}
	for i := range m.ToolCalls {
		printToolCall(w, &m.ToolCalls[i])
	}
}

func printToolCall(w io.Writer, tc *api.ToolCall) {
	toolColor.Fprintf(w, "\n[tool call %s] %s(%s)\n", tc.ID, tc.Name, tc.Arguments)
}

func printSummary(w io.Writer, resp *api.CanonicalResponse) {
	reason := string(resp.FinishReason)
	if resp.FinishReason == api.FinishError {
		reason = errorColor.Sprint(reason)
	}
	estimated := ""
	if resp.Usage.Estimated {
		estimated = " (estimated)"
	}
	dimColor.Fprintf(w, "finish=%s prompt_tokens=%d completion_tokens=%d%s\n",
		reason, resp.Usage.PromptTokens, resp.Usage.CompletionTokens, estimated)
}

func readRequest(path string, stdin io.Reader) (*api.CanonicalRequest, error) {
	var r io.Reader = stdin
	if path != "-" && path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var req api.CanonicalRequest
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("reading request: %w", err)
	}
	return &req, nil
}
