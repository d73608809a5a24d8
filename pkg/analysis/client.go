// Package analysis generates free-text lead assessments via the Anthropic API.
package analysis

import (
	"context"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client defines the analysis operation used by the analysis stage.
// The response is treated as opaque free text.
type Client interface {
	AnalyzeLead(ctx context.Context, lead LeadContext) (string, error)
}

// LeadContext is the resolved name/phone/address context sent to the model.
type LeadContext struct {
	FullName      string
	PhoneNumber   string
	StreetAddress string
	City          string
	State         string
	PostalCode    string
}

const systemPrompt = `You assess homeowner leads for real-estate outreach.
Given a lead with a verified mobile number and property address, write a short
plain-text assessment of outreach prospects. Two or three sentences, no markdown.`

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// NewClient creates an analysis client backed by the Anthropic SDK.
func NewClient(apiKey, model string, maxTokens int64) Client {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
		),
		model:     model,
		maxTokens: maxTokens,
	}
}

func (c *sdkClient) AnalyzeLead(ctx context.Context, lead LeadContext) (string, error) {
	prompt := fmt.Sprintf(
		"Lead: %s\nPhone: %s\nAddress: %s, %s, %s %s",
		lead.FullName, lead.PhoneNumber,
		lead.StreetAddress, lead.City, lead.State, lead.PostalCode,
	)

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System: []sdk.TextBlockParam{
			{Text: systemPrompt},
		},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "analysis: create message")
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", eris.New("analysis: empty response")
	}

	return text, nil
}
