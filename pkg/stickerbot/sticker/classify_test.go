package sticker

import "testing"

func TestClassify(t *testing.T) {
	tests := []struct {
		mime     string
		wantKind Kind
		wantExt  string
	}{
		{"image/gif", KindAnimated, "gif"},
		{"video/mp4", KindAnimated, "mp4"},
		{"IMAGE/GIF", KindAnimated, "gif"},
		{"video/mp4; codecs=avc1", KindAnimated, "mp4"},
		{"image/png", KindStatic, "png"},
		{"image/jpeg", KindStatic, "png"},
		{"image/webp", KindStatic, "png"},
		{"application/octet-stream", KindStatic, "png"},
		{"", KindStatic, "png"},
	}
	for _, tt := range tests {
		t.Run(tt.mime, func(t *testing.T) {
			got := Classify(tt.mime)
			if got.Kind != tt.wantKind || got.Extension != tt.wantExt {
				t.Errorf("Classify(%q) = %s, want %s/%s", tt.mime, got, tt.wantKind, tt.wantExt)
			}
		})
	}
}

func TestTriggered(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		hasMedia bool
		want     bool
	}{
		{"exact", "/fig", true, true},
		{"embedded", "check this out /fig please", true, true},
		{"upper case", "/FIG", true, true},
		{"no media", "/fig", false, false},
		{"no trigger", "nice picture", true, false},
		{"empty body", "", true, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Triggered(DefaultTrigger, tt.body, tt.hasMedia); got != tt.want {
				t.Errorf("Triggered(%q, %v) = %v, want %v", tt.body, tt.hasMedia, got, tt.want)
			}
		})
	}

	if Triggered("", "/fig", true) {
		t.Error("an empty trigger must never match")
	}
}

func TestParseFit(t *testing.T) {
	for in, want := range map[string]Fit{"": FitContain, "contain": FitContain, "cover": FitCover} {
		got, err := ParseFit(in)
		if err != nil || got != want {
			t.Errorf("ParseFit(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFit("stretch"); err == nil {
		t.Error("expected error for unknown fit")
	}
}
