package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/v3/assert"

	"github.com/voc/tsmon/capture"
)

func TestConfig(t *testing.T) {
	conf, err := Parse([]string{"testfiles/missing.toml", "testfiles/config_test.toml"})
	assert.NilError(t, err)

	assert.Equal(t, conf.App.PacketSize, 204)
	assert.Equal(t, conf.App.PayloadOffset, 12)
	assert.Equal(t, conf.App.BatchSize, 50)
	assert.Equal(t, conf.App.PollInterval, Duration(250*time.Millisecond))
	assert.Equal(t, conf.App.NullPacketThreshold, uint64(10))
	assert.Equal(t, conf.App.Hexdump, true)
	assert.Equal(t, conf.App.ShowTR101290, true)
	assert.Equal(t, conf.App.StickyClassification, false)

	assert.Equal(t, conf.Queue.Capacity, uint(4096))
	assert.Equal(t, conf.Queue.Policy, "drop")

	assert.Equal(t, conf.Capture.Type, "srt")
	assert.Equal(t, conf.Capture.Address, "127.0.0.1:5432")
	assert.Equal(t, conf.Capture.LatencyMs, uint(1337))
	assert.Equal(t, conf.Capture.LossMaxTTL, uint32(50))
	assert.DeepEqual(t, conf.Capture.Allow, []string{"publish/*", "#!::r=monitor*"})

	assert.Equal(t, conf.Output.JSONFile, "-")

	assert.Equal(t, conf.API.Enabled, false)
	assert.Equal(t, conf.API.Address, ":1234")
	assert.Equal(t, conf.API.Hostname, "monitor.example.org")

	assert.Equal(t, conf.Log.Level, slog.LevelDebug)
	assert.Equal(t, conf.Log.Format, "json")
	assert.Equal(t, conf.Log.File, "/var/log/tsmon.log")
	assert.Equal(t, conf.Log.MaxSizeMB, 10)
	assert.Equal(t, conf.Log.MaxBackups, 2)
	assert.Equal(t, conf.Log.MaxAgeDays, 7)

	p := conf.Pipeline()
	assert.Equal(t, p.PollInterval, 250*time.Millisecond)
	assert.Equal(t, p.PacketSize, 204)
	assert.Equal(t, p.StickyClassification, false)

	src := conf.Source()
	assert.Equal(t, src.Type, "srt")
	assert.Equal(t, src.LatencyMs, uint(1337))

	q, err := conf.NewQueue()
	assert.NilError(t, err)
	assert.Equal(t, q.Cap(), 4096)
	assert.Equal(t, q.Policy(), capture.PolicyDrop)
}

func TestConfig_Defaults(t *testing.T) {
	conf, err := Parse([]string{"testfiles/missing.toml"})
	assert.NilError(t, err)
	assert.DeepEqual(t, conf, Default())
	assert.Equal(t, conf.App.PacketSize, 188)
	assert.Equal(t, conf.App.PollInterval, Duration(time.Second))
	assert.Equal(t, conf.Queue.Capacity, uint(1_000_000))
	assert.Equal(t, conf.App.StickyClassification, true)
	assert.Equal(t, conf.Log.Level, slog.LevelInfo)
}

func TestConfig_Invalid(t *testing.T) {
	dir := t.TempDir()
	write := func(content string) string {
		name := filepath.Join(dir, "config.toml")
		assert.NilError(t, os.WriteFile(name, []byte(content), 0o644))
		return name
	}

	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"Policy", "[queue]\npolicy = \"lifo\"\n", "invalid queue policy"},
		{"PacketSize", "[app]\npacket_size = 100\n", "below 188"},
		{"CaptureType", "[capture]\ntype = \"rtsp\"\n", "unknown capture type"},
		{"FileMissing", "[capture]\ntype = \"file\"\n", "needs capture.file"},
		{"LogFormat", "[log]\nformat = \"xml\"\n", "unknown log format"},
		{"Duration", "[app]\npoll_interval = \"soon\"\n", "config:"},
		{"Syntax", "[app\n", "config:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]string{write(tt.content)})
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}

	_, err := Parse([]string{"testfiles/invalid_policy.toml"})
	assert.ErrorContains(t, err, "invalid queue policy")
}

func TestDuration(t *testing.T) {
	var d Duration
	assert.NilError(t, d.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, time.Duration(d), 90*time.Second)
	b, err := d.MarshalText()
	assert.NilError(t, err)
	assert.Equal(t, string(b), "1m30s")
	assert.ErrorContains(t, d.UnmarshalText([]byte("x")), "invalid duration")
}
