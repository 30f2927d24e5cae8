package ffmpeg

import (
	"math"
	"testing"
)

func TestParseProbeOutput(t *testing.T) {
	out := []byte(`{
		"streams": [
			{"codec_type": "video", "codec_name": "h264", "width": 1920, "height": 1080, "avg_frame_rate": "30000/1001", "nb_frames": "900"},
			{"codec_type": "audio", "codec_name": "aac"},
			{"codec_type": "video", "codec_name": "mjpeg", "width": 300, "height": 300}
		],
		"format": {"duration": "30.030000", "bit_rate": "5000000"}
	}`)

	info, err := ParseProbeOutput(out)
	if err != nil {
		t.Fatalf("ParseProbeOutput() error = %v", err)
	}

	if info.VideoCodec != "h264" || info.Width != 1920 || info.Height != 1080 {
		t.Errorf("video stream = %s %dx%d, want first video stream", info.VideoCodec, info.Width, info.Height)
	}
	if !info.HasAudio || info.AudioCodec != "aac" {
		t.Errorf("audio = %v %q", info.HasAudio, info.AudioCodec)
	}
	if math.Abs(info.FrameRate-29.97) > 0.01 {
		t.Errorf("FrameRate = %f, want ~29.97", info.FrameRate)
	}
	if info.FrameCount != 900 {
		t.Errorf("FrameCount = %d, want 900", info.FrameCount)
	}
	if info.Duration != 30.03 || info.Bitrate != 5000000 {
		t.Errorf("Duration/Bitrate = %f/%d", info.Duration, info.Bitrate)
	}
}

func TestParseProbeOutput_DerivesFrameCount(t *testing.T) {
	out := []byte(`{"streams": [{"codec_type": "video", "avg_frame_rate": "25/1", "duration": "4.0"}], "format": {}}`)
	info, err := ParseProbeOutput(out)
	if err != nil {
		t.Fatal(err)
	}
	if info.Duration != 4 || info.FrameCount != 100 {
		t.Errorf("Duration = %f FrameCount = %d, want 4 and 100", info.Duration, info.FrameCount)
	}
}

func TestParseProbeOutput_Invalid(t *testing.T) {
	if _, err := ParseProbeOutput([]byte("not json")); err == nil {
		t.Error("expected error for invalid output")
	}
}

func TestParseRate(t *testing.T) {
	tests := map[string]float64{
		"25/1": 25,
		"0/0":  0,
		"":     0,
		"24":   24,
		"1/0":  0,
	}
	for in, want := range tests {
		if got := parseRate(in); got != want {
			t.Errorf("parseRate(%q) = %f, want %f", in, got, want)
		}
	}
}

func TestFrameOffsets(t *testing.T) {
	got := FrameOffsets(90, 9)
	if len(got) != 9 {
		t.Fatalf("len = %d, want 9", len(got))
	}
	for i, v := range got {
		if v != float64(i*10) {
			t.Errorf("offset[%d] = %f, want %d", i, v, i*10)
		}
	}

	if FrameOffsets(10, 0) != nil {
		t.Error("zero frames should return nil")
	}
	for _, v := range FrameOffsets(0, 3) {
		if v != 0 {
			t.Error("unknown duration should yield zero offsets")
		}
	}
}
