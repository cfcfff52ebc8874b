package engine

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/nikhilbhutani/financial-analyzer/internal/agent"
	"github.com/nikhilbhutani/financial-analyzer/internal/search"
)

const (
	toolReadDocument = "read_financial_document"
	toolSearchWeb    = "search_web"
	toolCleanData    = "clean_investment_data"
	toolScanRisks    = "scan_risk_factors"
)

const maxRiskLines = 20

const noRiskFactors = "No significant risk factors identified in the provided data."

var riskKeywords = []string{"risk", "liability", "debt", "loss", "decline", "uncertainty", "volatility"}

var repeatedSpaces = regexp.MustCompile(` {2,}`)

// toolSpec describes one tool for both backends. param names the single
// argument the agents SDK schema exposes.
type toolSpec struct {
	name        string
	description string
	param       string
	paramDesc   string
	fn          func(ctx context.Context, input string) (string, error)
}

func (s toolSpec) tool() agent.Tool {
	return agent.NewFuncTool(s.name, s.description, s.fn)
}

type toolbox map[string]toolSpec

func newToolbox(searcher search.Searcher) toolbox {
	specs := []toolSpec{
		{
			name: toolReadDocument,
			description: "Reads the financial document under analysis and returns its text. " +
				"Input: the document path (may be left empty).",
			param:     "file_path",
			paramDesc: "Path of the financial document; empty reads the uploaded document.",
			fn:        readDocument,
		},
		{
			name:        toolSearchWeb,
			description: "Searches the internet for market context and industry benchmarks. Input: a search query.",
			param:       "query",
			paramDesc:   "The search query.",
			fn:          searchWeb(searcher),
		},
		{
			name: toolCleanData,
			description: "Normalises raw financial document text for investment analysis. " +
				"Input: text to clean; empty uses the document.",
			param:     "financial_document_data",
			paramDesc: "Raw text from the financial document.",
			fn:        cleanInvestmentData,
		},
		{
			name: toolScanRisks,
			description: "Lists the lines of financial text that mention risk indicators such as debt, losses or volatility. " +
				"Input: text to scan; empty uses the document.",
			param:     "financial_document_data",
			paramDesc: "Raw text from the financial document.",
			fn:        scanRiskFactors,
		},
	}

	tb := make(toolbox, len(specs))
	for _, s := range specs {
		tb[s.name] = s
	}
	return tb
}

// readDocument always returns the job's own document. The path argument is
// informational only, so agents cannot read arbitrary files.
func readDocument(ctx context.Context, _ string) (string, error) {
	doc, ok := documentFrom(ctx)
	if !ok {
		return "", errors.New("no document is loaded for this analysis")
	}
	return doc.rendered, nil
}

func searchWeb(searcher search.Searcher) func(context.Context, string) (string, error) {
	return func(ctx context.Context, query string) (string, error) {
		if searcher == nil {
			return search.UnavailableMessage, nil
		}
		return searcher.Search(ctx, query)
	}
}

func cleanInvestmentData(ctx context.Context, input string) (string, error) {
	text, err := inputOrDocument(ctx, input)
	if err != nil {
		return "", err
	}
	return repeatedSpaces.ReplaceAllString(text, " "), nil
}

func scanRiskFactors(ctx context.Context, input string) (string, error) {
	text, err := inputOrDocument(ctx, input)
	if err != nil {
		return "", err
	}

	var found []string
	for _, line := range strings.Split(text, "\n") {
		lower := strings.ToLower(line)
		for _, kw := range riskKeywords {
			if strings.Contains(lower, kw) {
				found = append(found, strings.TrimSpace(line))
				break
			}
		}
		if len(found) == maxRiskLines {
			break
		}
	}

	if len(found) == 0 {
		return noRiskFactors, nil
	}
	return "Risk factors identified:\n" + strings.Join(found, "\n"), nil
}

func inputOrDocument(ctx context.Context, input string) (string, error) {
	if strings.TrimSpace(input) != "" {
		return input, nil
	}
	doc, ok := documentFrom(ctx)
	if !ok {
		return "", errors.New("no text provided")
	}
	return doc.text, nil
}
