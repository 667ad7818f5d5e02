// Package imagegen provides a remote text-to-image backend built on the
// OpenAI images API.
//
// atoms.go contains pure utility functions with no dependencies.
package imagegen

import (
	"strings"

	"github.com/sashabaranov/go-openai"
)

// IsAzureEndpoint checks if the given endpoint URL is an Azure OpenAI endpoint.
// It performs case-insensitive substring matching against known Azure domain patterns.
//
// Azure OpenAI endpoints typically match one of these patterns:
//   - *.openai.azure.com
//   - *.cognitiveservices.azure.com
func IsAzureEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	lower := strings.ToLower(endpoint)
	return strings.Contains(lower, "openai.azure.com") ||
		strings.Contains(lower, "cognitiveservices.azure.com")
}

// IsOpenAIEndpoint checks if the given endpoint URL is a standard OpenAI API endpoint.
func IsOpenAIEndpoint(endpoint string) bool {
	if endpoint == "" {
		return false
	}
	return strings.Contains(strings.ToLower(endpoint), "api.openai.com")
}

// NearestImageSize picks the smallest square size the images API offers
// that covers both requested dimensions.
//
// Example:
//
//	NearestImageSize(512, 512)   // "512x512"
//	NearestImageSize(640, 480)   // "1024x1024"
//	NearestImageSize(128, 200)   // "256x256"
func NearestImageSize(width, height int) string {
	side := width
	if height > side {
		side = height
	}
	switch {
	case side <= 256:
		return openai.CreateImageSize256x256
	case side <= 512:
		return openai.CreateImageSize512x512
	default:
		return openai.CreateImageSize1024x1024
	}
}

// composePrompt folds a negative prompt into the text, since the images API
// has no separate field for it.
func composePrompt(prompt string, negative *string) string {
	if negative == nil || strings.TrimSpace(*negative) == "" {
		return prompt
	}
	return prompt + "\nAvoid: " + strings.TrimSpace(*negative)
}
