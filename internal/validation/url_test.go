package validation

import (
	"net"
	"strings"
	"testing"
)

func TestNewWorkoutURLValidator(t *testing.T) {
	v := NewWorkoutURLValidator()
	if v == nil {
		t.Fatal("NewWorkoutURLValidator returned nil")
	}
	if v.AllowLocalhost {
		t.Error("Expected AllowLocalhost to be false for security")
	}
	if v.AllowPrivateIPs {
		t.Error("Expected AllowPrivateIPs to be false for security")
	}
	if len(v.AllowedHosts) != 1 || v.AllowedHosts[0] != FitnessHost {
		t.Errorf("Expected AllowedHosts = [%s], got %v", FitnessHost, v.AllowedHosts)
	}
	if v.MaxLength != 2048 {
		t.Errorf("Expected MaxLength to be 2048, got %d", v.MaxLength)
	}
}

func TestValidateAndNormalize(t *testing.T) {
	v := NewWorkoutURLValidator()

	tests := []struct {
		name        string
		input       string
		expected    string
		shouldError bool
		errorMsg    string
	}{
		{
			name:        "empty URL",
			input:       "   ",
			shouldError: true,
			errorMsg:    "URL cannot be empty",
		},
		{
			name:     "us workout",
			input:    "https://fitness.apple.com/us/workout/core-with-kim/1234567890",
			expected: "https://fitness.apple.com/us/workout/core-with-kim/1234567890",
		},
		{
			name:     "regional variant with tracking query",
			input:    "https://fitness.apple.com/gb/workout/x/123?utm=abc",
			expected: "https://fitness.apple.com/us/workout/x/123",
		},
		{
			name:     "missing scheme and trailing slash",
			input:    "fitness.apple.com/de/workout/hiit-with-sam/42/",
			expected: "https://fitness.apple.com/us/workout/hiit-with-sam/42",
		},
		{
			name:     "upper-case host and fragment",
			input:    "https://Fitness.Apple.com/us/workout/yoga/7#songs",
			expected: "https://fitness.apple.com/us/workout/yoga/7",
		},
		{
			name:        "other host",
			input:       "https://music.apple.com/us/album/1",
			shouldError: true,
			errorMsg:    "not a supported workout site",
		},
		{
			name:        "bad scheme",
			input:       "ftp://fitness.apple.com/us/workout/x/1",
			shouldError: true,
			errorMsg:    "http or https",
		},
		{
			name:        "markup characters",
			input:       "https://fitness.apple.com/us/<script>",
			shouldError: true,
			errorMsg:    "invalid characters",
		},
		{
			name:        "traversal",
			input:       "https://fitness.apple.com/us/../../etc",
			shouldError: true,
			errorMsg:    "directory traversal",
		},
		{
			name:        "too long",
			input:       "https://fitness.apple.com/us/workout/" + strings.Repeat("a", 2100),
			shouldError: true,
			errorMsg:    "URL too long",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ValidateAndNormalize(tt.input)
			if tt.shouldError {
				if err == nil {
					t.Fatalf("expected error containing %q, got none (result %q)", tt.errorMsg, got)
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("error %q does not contain %q", err.Error(), tt.errorMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("ValidateAndNormalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestValidateAndNormalizePermissive(t *testing.T) {
	v := NewPermissiveWorkoutURLValidator()

	got, err := v.ValidateAndNormalize("http://127.0.0.1:8080/gb/workout/x/1?a=b")
	if err != nil {
		t.Fatalf("permissive validator rejected local URL: %v", err)
	}
	// Region rewriting only applies to the Fitness+ host.
	if got != "http://127.0.0.1:8080/gb/workout/x/1" {
		t.Errorf("got %q", got)
	}

	strict := &WorkoutURLValidator{MaxLength: 2048}
	if _, err := strict.ValidateAndNormalize("http://localhost/x"); err == nil {
		t.Error("expected localhost to be rejected without AllowLocalhost")
	}
	if _, err := strict.ValidateAndNormalize("http://10.0.0.8/x"); err == nil {
		t.Error("expected private IP to be rejected without AllowPrivateIPs")
	}
}

func TestIdentityKeyCollapsesVariants(t *testing.T) {
	variants := []string{
		"https://fitness.apple.com/gb/workout/x/123?utm=abc",
		"https://fitness.apple.com/us/workout/x/123",
		"fitness.apple.com/au/workout/x/123/",
		"https://fitness.apple.com/us/workout/x/123#top",
	}

	want := IdentityKey(variants[0])
	if len(want) != 64 {
		t.Fatalf("identity key should be hex sha256, got %q", want)
	}
	for _, v := range variants[1:] {
		if got := IdentityKey(v); got != want {
			t.Errorf("IdentityKey(%q) = %s, want %s", v, got, want)
		}
	}

	if IdentityKey("https://fitness.apple.com/us/workout/x/124") == want {
		t.Error("different workouts must not share an identity key")
	}
}

func TestStripQueryAndRegion(t *testing.T) {
	if got := StripQuery(" https://a.b/c?d=e#f "); got != "https://a.b/c" {
		t.Errorf("StripQuery = %q", got)
	}
	if got := StripQuery("https://a.b/c"); got != "https://a.b/c" {
		t.Errorf("StripQuery = %q", got)
	}
	if got := Region("https://fitness.apple.com/gb/workout/x/1"); got != "gb" {
		t.Errorf("Region = %q, want gb", got)
	}
	if got := Region("https://fitness.apple.com/workout/x/1"); got != "" {
		t.Errorf("Region = %q, want empty", got)
	}
}

func TestIsLocalhost(t *testing.T) {
	tests := []struct {
		hostname string
		expected bool
	}{
		{"localhost", true},
		{"127.0.0.1", true},
		{"127.1.2.3", true},
		{"::1", true},
		{"app.localhost", true},
		{"fitness.apple.com", false},
		{"localhost.com", false},
	}

	for _, tt := range tests {
		if got := isLocalhost(tt.hostname); got != tt.expected {
			t.Errorf("isLocalhost(%q) = %v, want %v", tt.hostname, got, tt.expected)
		}
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip       string
		expected bool
	}{
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"169.254.1.1", true},
		{"127.0.0.1", true},
		{"0.0.0.0", true},
		{"fd00::1", true},
		{"fe80::1", true},
		{"8.8.8.8", false},
		{"17.253.144.10", false},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		ip := net.ParseIP(tt.ip)
		if ip == nil {
			t.Fatalf("bad test IP %q", tt.ip)
		}
		if got := isPrivateIP(ip); got != tt.expected {
			t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.expected)
		}
	}
}
