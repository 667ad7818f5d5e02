package imagegen

import "testing"

func TestIsAzureEndpoint(t *testing.T) {
	tests := []struct {
		name     string
		endpoint string
		expected bool
	}{
		{"empty string returns false", "", false},
		{"openai.azure.com returns true", "https://myresource.openai.azure.com", true},
		{"cognitiveservices.azure.com returns true", "https://myresource.cognitiveservices.azure.com", true},
		{"case insensitive", "https://myresource.OpenAI.Azure.COM", true},
		{"standard OpenAI returns false", "https://api.openai.com/v1", false},
		{"localhost returns false", "http://localhost:1234", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsAzureEndpoint(tt.endpoint); got != tt.expected {
				t.Errorf("IsAzureEndpoint(%q) = %v, expected %v", tt.endpoint, got, tt.expected)
			}
		})
	}
}

func TestIsOpenAIEndpoint(t *testing.T) {
	tests := []struct {
		endpoint string
		expected bool
	}{
		{"", false},
		{"https://api.openai.com/v1", true},
		{"https://API.OPENAI.COM", true},
		{"https://myresource.openai.azure.com", false},
		{"http://localhost:1234", false},
	}

	for _, tt := range tests {
		if got := IsOpenAIEndpoint(tt.endpoint); got != tt.expected {
			t.Errorf("IsOpenAIEndpoint(%q) = %v, expected %v", tt.endpoint, got, tt.expected)
		}
	}
}

func TestNearestImageSize(t *testing.T) {
	tests := []struct {
		width, height int
		expected      string
	}{
		{128, 128, "256x256"},
		{256, 200, "256x256"},
		{512, 512, "512x512"},
		{264, 512, "512x512"},
		{640, 480, "1024x1024"},
		{2048, 2048, "1024x1024"},
	}

	for _, tt := range tests {
		if got := NearestImageSize(tt.width, tt.height); got != tt.expected {
			t.Errorf("NearestImageSize(%d, %d) = %s, expected %s", tt.width, tt.height, got, tt.expected)
		}
	}
}

func TestComposePrompt(t *testing.T) {
	neg := "blurry"
	blank := "  "

	if got := composePrompt("a cat", nil); got != "a cat" {
		t.Errorf("unexpected prompt %q", got)
	}
	if got := composePrompt("a cat", &blank); got != "a cat" {
		t.Errorf("blank negative prompt should be ignored, got %q", got)
	}
	if got := composePrompt("a cat", &neg); got != "a cat\nAvoid: blurry" {
		t.Errorf("unexpected prompt %q", got)
	}
}
