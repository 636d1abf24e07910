package models

import "testing"

func TestNewProgress(t *testing.T) {
	tests := []struct {
		name             string
		images, captions int
		progress         int
		complete         bool
	}{
		{name: "empty session", images: 0, captions: 0, progress: 0, complete: false},
		{name: "captions without images", images: 0, captions: 5, progress: 0, complete: false},
		{name: "floors the percentage", images: 3, captions: 1, progress: 33, complete: false},
		{name: "all captioned", images: 3, captions: 3, progress: 100, complete: true},
		{name: "stray captions", images: 2, captions: 5, progress: 250, complete: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewProgress(tt.images, tt.captions)
			if p.TotalImages != tt.images || p.ProcessedImages != tt.captions {
				t.Errorf("counts = %d/%d, want %d/%d", p.ProcessedImages, p.TotalImages, tt.captions, tt.images)
			}
			if p.Progress != tt.progress || p.IsComplete != tt.complete {
				t.Errorf("NewProgress(%d, %d) = %d%%, complete %v; want %d%%, complete %v",
					tt.images, tt.captions, p.Progress, p.IsComplete, tt.progress, tt.complete)
			}
		})
	}
}
