package commands

import (
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/jholhewres/stickerbot/pkg/stickerbot/config"

	"github.com/chai2010/webp"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd("test")
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

// writeConfig writes a config whose scratch and session dirs live in dir.
func writeConfig(t *testing.T, dir, extra string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := `
logging:
  format: text
sticker:
  scratch_dir: ./scratch
  ffprobe_path: ./missing/ffprobe
channels:
  whatsapp:
    session_dir: ./sessions
` + extra
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func writePNG(t *testing.T, path string, w, h int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

func TestConvertCommand(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	input := filepath.Join(dir, "photo.png")
	writePNG(t, input, 300, 120)

	stdout, stderr, err := execute(t, "convert", input, "-c", cfgPath)
	if err != nil {
		t.Fatalf("convert: %v\nstderr: %s", err, stderr)
	}
	if !strings.Contains(stdout, "photo.webp") {
		t.Errorf("stdout = %q", stdout)
	}

	data, err := os.ReadFile(filepath.Join(dir, "photo.webp"))
	if err != nil {
		t.Fatalf("reading sticker: %v", err)
	}
	w, h, _, err := webp.GetInfo(data)
	if err != nil {
		t.Fatalf("GetInfo: %v", err)
	}
	if w != 512 || h != 512 {
		t.Errorf("sticker is %dx%d, want 512x512", w, h)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "scratch"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("scratch dir not cleaned: %d entries", len(entries))
	}
}

func TestConvertCommandExplicitOutput(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	input := filepath.Join(dir, "in.png")
	writePNG(t, input, 64, 64)
	output := filepath.Join(dir, "out", "sticker.webp")

	if _, stderr, err := execute(t, "convert", input, "-o", output, "-c", cfgPath); err != nil {
		t.Fatalf("convert: %v\nstderr: %s", err, stderr)
	}
	if _, err := os.Stat(output); err != nil {
		t.Errorf("expected %s: %v", output, err)
	}
}

func TestConvertCommandKeepsWebPInput(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	input := filepath.Join(dir, "pic.webp")

	var buf bytes.Buffer
	if err := webp.Encode(&buf, image.NewNRGBA(image.Rect(0, 0, 40, 30)), &webp.Options{Lossless: true}); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(input, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}

	if _, stderr, err := execute(t, "convert", input, "-c", cfgPath); err != nil {
		t.Fatalf("convert: %v\nstderr: %s", err, stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "pic.sticker.webp")); err != nil {
		t.Fatalf("expected pic.sticker.webp: %v", err)
	}
	got, err := os.ReadFile(input)
	if err != nil || !bytes.Equal(got, buf.Bytes()) {
		t.Fatalf("input was modified (err %v)", err)
	}
}

func TestConvertCommandRefusesToOverwriteInput(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	input := filepath.Join(dir, "in.png")
	writePNG(t, input, 16, 16)

	_, _, err := execute(t, "convert", input, "-o", input, "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "overwrite") {
		t.Fatalf("expected overwrite error, got %v", err)
	}
}

func TestConvertCommandRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	input := filepath.Join(dir, "notes.png")
	if err := os.WriteFile(input, []byte("definitely not an image"), 0o600); err != nil {
		t.Fatal(err)
	}

	_, stderr, err := execute(t, "convert", input, "-c", cfgPath)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(stderr, config.DefaultConfig().Sticker.Messages.ProcessingFailed) {
		t.Errorf("failure note missing from stderr: %q", stderr)
	}
	if _, err := os.Stat(filepath.Join(dir, "notes.webp")); !os.IsNotExist(err) {
		t.Errorf("no sticker should be written, stat err = %v", err)
	}
}

func TestConvertCommandMissingInput(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	if _, _, err := execute(t, "convert", filepath.Join(dir, "nope.png"), "-c", cfgPath); err == nil {
		t.Fatal("expected error for missing input")
	}
}

func TestDefaultOutputPath(t *testing.T) {
	tests := map[string]string{
		"cat.png":         "cat.webp",
		"dir/clip.mp4":    "dir/clip.webp",
		"noext":           "noext.webp",
		"archive.tar.gif": "archive.tar.webp",
		"pic.webp":        "pic.sticker.webp",
		"dir/Pic.WEBP":    "dir/Pic.sticker.webp",
	}
	for in, want := range tests {
		if got := defaultOutputPath(in); got != want {
			t.Errorf("defaultOutputPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.LoggingConfig{Level: "info", Format: "json"}, false, &buf)
		logger.Info("hello", "k", "v")
		var rec map[string]any
		if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
			t.Fatalf("not JSON: %q", buf.String())
		}
		if rec["msg"] != "hello" || rec["k"] != "v" {
			t.Errorf("record = %v", rec)
		}
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.LoggingConfig{Format: "text"}, false, &buf)
		logger.Info("hello")
		if !strings.Contains(buf.String(), "msg=hello") {
			t.Errorf("output = %q", buf.String())
		}
	})

	t.Run("non-terminal defaults to json", func(t *testing.T) {
		var buf bytes.Buffer
		newLogger(config.LoggingConfig{}, false, &buf).Info("x")
		if !strings.HasPrefix(buf.String(), "{") {
			t.Errorf("output = %q", buf.String())
		}
	})

	t.Run("level", func(t *testing.T) {
		var buf bytes.Buffer
		logger := newLogger(config.LoggingConfig{Level: "warn", Format: "text"}, false, &buf)
		logger.Info("hidden")
		if buf.Len() != 0 {
			t.Errorf("info logged at warn level: %q", buf.String())
		}
		verbose := newLogger(config.LoggingConfig{Level: "warn", Format: "text"}, true, &buf)
		verbose.Debug("shown")
		if !strings.Contains(buf.String(), "shown") {
			t.Error("verbose should enable debug")
		}
	})
}

// stubBinary writes an executable shell script to dir/name.
func stubBinary(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDoctorCommand(t *testing.T) {
	dir := t.TempDir()
	ffmpeg := stubBinary(t, dir, "ffmpeg")
	cfgPath := writeConfig(t, dir, "")
	content, _ := os.ReadFile(cfgPath)
	content = bytes.Replace(content, []byte("  ffprobe_path: ./missing/ffprobe\n"),
		[]byte("  ffprobe_path: ./missing/ffprobe\n  ffmpeg_path: "+ffmpeg+"\n"), 1)
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := execute(t, "doctor", "-c", cfgPath)
	if err != nil {
		t.Fatalf("doctor: %v\n%s", err, stdout)
	}
	for _, want := range []string{"FFmpeg", "FFprobe", "warn", "Scratch dir", "WhatsApp session", "not linked yet", "All required checks passed"} {
		if !strings.Contains(stdout, want) {
			t.Errorf("report missing %q:\n%s", want, stdout)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "scratch")); err != nil {
		t.Errorf("doctor should create the scratch dir: %v", err)
	}
}

func TestDoctorCommandMissingFFmpeg(t *testing.T) {
	dir := t.TempDir()
	cfgPath := writeConfig(t, dir, "")
	content, _ := os.ReadFile(cfgPath)
	content = bytes.Replace(content, []byte("sticker:\n"), []byte("sticker:\n  ffmpeg_path: ./missing/ffmpeg\n"), 1)
	if err := os.WriteFile(cfgPath, content, 0o600); err != nil {
		t.Fatal(err)
	}

	stdout, _, err := execute(t, "doctor", "-c", cfgPath)
	if err == nil || !strings.Contains(err.Error(), "1 required check") {
		t.Fatalf("expected one failed check, got %v", err)
	}
	if !strings.Contains(stdout, "FAIL") {
		t.Errorf("report should flag FFmpeg:\n%s", stdout)
	}
}

func TestSessionCheck(t *testing.T) {
	dir := t.TempDir()
	db := filepath.Join(dir, "whatsapp.db")

	if c := sessionCheck(db); c.OK || !c.Optional {
		t.Errorf("missing db = %+v", c)
	}
	if err := os.WriteFile(db, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if c := sessionCheck(db); !c.OK {
		t.Errorf("existing db = %+v", c)
	}
	if c := sessionCheck(dir); c.OK {
		t.Errorf("directory accepted as db: %+v", c)
	}
}

func TestRenderTable(t *testing.T) {
	out := renderTable([]string{"A", "B"}, [][]string{{"one"}, {"two", "three"}})
	for _, want := range []string{"A", "B", "one", "two", "three", "╭"} {
		if !strings.Contains(out, want) {
			t.Errorf("table missing %q:\n%s", want, out)
		}
	}
	if renderTable(nil, nil) != "" {
		t.Error("empty headers should render nothing")
	}
}

func TestInitCommandDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "config.yaml")

	stdout, _, err := execute(t, "init", "--yes", "-o", path)
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if !strings.Contains(stdout, "Config written") {
		t.Errorf("stdout = %q", stdout)
	}

	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Sticker.Trigger != "/fig" || cfg.Sticker.CanvasSize != 512 {
		t.Errorf("reloaded sticker config = %+v", cfg.Sticker)
	}

	if _, _, err := execute(t, "init", "--yes", "-o", path); err == nil {
		t.Error("expected refusal to overwrite without --force")
	}
	if _, _, err := execute(t, "init", "--yes", "--force", "-o", path); err != nil {
		t.Errorf("--force: %v", err)
	}
}

func TestSetupAnswersApply(t *testing.T) {
	a := defaultAnswers()
	a.Trigger = "  !s  "
	a.Fit = "cover"
	a.Quality = "90"
	a.RespondToGroups = false
	a.Acknowledge = false
	a.Keepalive = false

	cfg, err := a.apply(config.DefaultConfig())
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.Sticker.Trigger != "!s" || cfg.Sticker.Fit != "cover" || cfg.Sticker.Quality != 90 {
		t.Errorf("sticker = %+v", cfg.Sticker)
	}
	if cfg.Channels.WhatsApp.RespondToGroups || !cfg.Channels.WhatsApp.RespondToDMs {
		t.Errorf("filters = %+v", cfg.Channels.WhatsApp)
	}
	if cfg.Sticker.Messages.Converting != "" || cfg.Keepalive.Enabled {
		t.Errorf("ack/keepalive not disabled: %+v %+v", cfg.Sticker.Messages, cfg.Keepalive)
	}

	a.Quality = "0"
	if _, err := a.apply(config.DefaultConfig()); err == nil {
		t.Error("expected quality error")
	}

	a = defaultAnswers()
	a.RespondToDMs, a.RespondToGroups = false, false
	if _, err := a.apply(config.DefaultConfig()); err == nil {
		t.Error("expected error when every chat is disabled")
	}
}
