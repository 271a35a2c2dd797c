package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"

	"github.com/victorsharp-labs/flow-proxy/internal/cache"
	"github.com/victorsharp-labs/flow-proxy/internal/config"
	"github.com/victorsharp-labs/flow-proxy/internal/resolver"
	"github.com/victorsharp-labs/flow-proxy/internal/upstream"
	"github.com/victorsharp-labs/flow-proxy/internal/util"
	"golang.org/x/oauth2"
)

const probeSnippetLimit = 200

// ProbeOptions configures a one-off resolution.
type ProbeOptions struct {
	Operation string
	JobID     string
	Token     string
	Body      string
	JSON      bool
}

// ProbeReport is the JSON form of a probe.
type ProbeReport struct {
	Operation string             `json:"operation"`
	Matched   string             `json:"matched,omitempty"`
	Status    int                `json:"status,omitempty"`
	Exhausted bool               `json:"exhausted"`
	Error     string             `json:"error,omitempty"`
	Attempts  []resolver.Attempt `json:"attempts"`
	Body      string             `json:"body,omitempty"`
}

// NormalizeOperation maps CLI spellings onto operation names.
func NormalizeOperation(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "validate", "validate-session", "session":
		return config.OpValidateSession, nil
	case "generate", "gen":
		return config.OpGenerate, nil
	case "status":
		return config.OpStatus, nil
	}
	return "", fmt.Errorf("unknown operation %q (want validate, generate or status)", name)
}

// RunProbe resolves one operation against the live upstream with an empty cache and
// writes every attempt to out.
func RunProbe(ctx context.Context, cfg *config.Config, opts ProbeOptions, client upstream.Doer, out io.Writer) error {
	name, err := NormalizeOperation(opts.Operation)
	if err != nil {
		return err
	}
	if name == config.OpStatus && strings.TrimSpace(opts.JobID) == "" {
		return fmt.Errorf("status probe needs --id")
	}

	if client == nil {
		built, errClient := upstream.NewClientFromConfig(&cfg.Upstream)
		if errClient != nil {
			return fmt.Errorf("build upstream client: %w", errClient)
		}
		client = built
	}

	op := resolver.OperationFor(&cfg.Upstream, name)
	call := resolver.Call{JobID: strings.TrimSpace(opts.JobID)}
	if token := strings.TrimSpace(opts.Token); token != "" {
		call.Token = &oauth2.Token{AccessToken: token, TokenType: "Bearer"}
	}
	if op.Method != http.MethodGet && op.Method != http.MethodHead {
		call.Body = []byte("{}")
		if body := strings.TrimSpace(opts.Body); body != "" {
			if !json.Valid([]byte(body)) {
				return fmt.Errorf("--body is not valid JSON")
			}
			call.Body = []byte(body)
		}
	}

	res, errResolve := resolver.New(client, cache.NewEndpointCache(0)).Resolve(ctx, op, call)
	report := ProbeReport{Operation: name}
	if res != nil {
		report.Matched = res.URL
		report.Exhausted = res.Exhausted
		report.Attempts = res.Attempts
		if res.Outcome != nil {
			report.Status = res.Outcome.Status
			report.Body = util.Snippet(probeBody(res.Outcome), probeSnippetLimit)
		}
	}
	if errResolve != nil {
		report.Error = errResolve.Error()
	}
	if report.Attempts == nil {
		report.Attempts = []resolver.Attempt{}
	}

	if opts.JSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	return writeProbeTable(out, report)
}

func probeBody(o *upstream.Outcome) string {
	if o.Kind == upstream.BodyJSON {
		return string(util.RedactSensitiveJSON(o.JSON))
	}
	return o.Text
}

func writeProbeTable(out io.Writer, report ProbeReport) error {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "#\tURL\tSTATUS\tRESULT\tMS\n")
	for i, a := range report.Attempts {
		result := "match"
		switch {
		case a.Error != "":
			result = a.Error
		case a.NotFoundPage:
			result = "html 404, skipped"
		}
		status := "-"
		if a.Status > 0 {
			status = fmt.Sprintf("%d", a.Status)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n", i+1, a.URL, status, result, a.DurationMS)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	switch {
	case report.Error != "":
		fmt.Fprintf(out, "\n%s: transport error: %s\n", report.Operation, report.Error)
	case report.Exhausted:
		fmt.Fprintf(out, "\n%s: no candidate matched\n", report.Operation)
	default:
		fmt.Fprintf(out, "\n%s: matched %s (%d)\n", report.Operation, report.Matched, report.Status)
	}
	if report.Body != "" {
		fmt.Fprintf(out, "body: %s\n", report.Body)
	}
	return nil
}
