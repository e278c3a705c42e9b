// Package dataset loads evaluation scenes and externally predicted poses
// from JSON files.
//
// Extrinsics are world-to-camera matrices given as flat row-major lists of
// 16 (4×4) or 12 (3×4) numbers.
package dataset

import (
	"fmt"
	"strings"

	"github.com/banshee-data/pose.robustness/internal/eval"
	"github.com/banshee-data/pose.robustness/internal/fsutil"
	"github.com/banshee-data/pose.robustness/internal/rigid"
)

// Matrix is one extrinsic matrix as stored on disk.
type Matrix []float64

type viewsFile struct {
	Extrinsics []Matrix `json:"extrinsics"`
}

type sceneFile struct {
	Scene   string    `json:"scene"`
	Context viewsFile `json:"context"`
	Target  viewsFile `json:"target"`
}

type indexFile struct {
	Scenes []sceneFile `json:"scenes"`
}

// ParseMatrix converts a 16- or 12-element row-major matrix to a
// transform and checks that its rotation block is proper.
func ParseMatrix(m Matrix) (rigid.Transform, error) {
	var t rigid.Transform
	switch len(m) {
	case 16:
		var h rigid.Homogeneous
		copy(h[:], m)
		if h[12] != 0 || h[13] != 0 || h[14] != 0 || h[15] != 1 {
			return t, fmt.Errorf("bottom row %v, want [0 0 0 1]", h[12:])
		}
		t = rigid.FromHomogeneous(h)
	case 12:
		copy(t[:], m)
	default:
		return t, fmt.Errorf("matrix has %d elements, want 16 or 12", len(m))
	}
	if res := rigid.ValidateTransform(t, rigid.RotationTolerance); !res.Valid {
		return t, fmt.Errorf("invalid extrinsics: %s", strings.Join(res.Issues, "; "))
	}
	return t, nil
}

// ToMatrix encodes t as a flat row-major 4×4 matrix.
func ToMatrix(t rigid.Transform) Matrix {
	h := t.Homogeneous()
	return append(Matrix(nil), h[:]...)
}

func parseViews(ms []Matrix, scene, part string) ([]rigid.Transform, error) {
	out := make([]rigid.Transform, len(ms))
	for i, m := range ms {
		t, err := ParseMatrix(m)
		if err != nil {
			return nil, fmt.Errorf("scene %s %s view %d: %w", scene, part, i, err)
		}
		out[i] = t
	}
	return out, nil
}

// LoadScenes reads a scene index:
//
//	{"scenes": [{"scene": "id",
//	             "context": {"extrinsics": [[...16 floats...], ...]},
//	             "target":  {"extrinsics": [...]}}]}
//
// Scene IDs must be unique and every scene needs at least one context view.
func LoadScenes(fsys fsutil.FileSystem, path string) ([]eval.Scene, error) {
	var idx indexFile
	if err := fsutil.ReadJSON(fsys, path, &idx); err != nil {
		return nil, fmt.Errorf("load scenes: %w", err)
	}

	seen := make(map[string]bool, len(idx.Scenes))
	scenes := make([]eval.Scene, 0, len(idx.Scenes))
	for i, sf := range idx.Scenes {
		if sf.Scene == "" {
			return nil, fmt.Errorf("scene %d has no id", i)
		}
		if seen[sf.Scene] {
			return nil, fmt.Errorf("duplicate scene id %q", sf.Scene)
		}
		seen[sf.Scene] = true
		if len(sf.Context.Extrinsics) == 0 {
			return nil, fmt.Errorf("scene %s has no context views", sf.Scene)
		}

		context, err := parseViews(sf.Context.Extrinsics, sf.Scene, "context")
		if err != nil {
			return nil, err
		}
		target, err := parseViews(sf.Target.Extrinsics, sf.Scene, "target")
		if err != nil {
			return nil, err
		}
		scenes = append(scenes, eval.Scene{ID: sf.Scene, Context: context, Target: target})
	}
	return scenes, nil
}

// SaveScenes writes scenes in the format read by LoadScenes.
func SaveScenes(fsys fsutil.FileSystem, path string, scenes []eval.Scene) error {
	idx := indexFile{Scenes: make([]sceneFile, len(scenes))}
	for i, s := range scenes {
		sf := sceneFile{Scene: s.ID}
		for _, t := range s.Context {
			sf.Context.Extrinsics = append(sf.Context.Extrinsics, ToMatrix(t))
		}
		for _, t := range s.Target {
			sf.Target.Extrinsics = append(sf.Target.Extrinsics, ToMatrix(t))
		}
		idx.Scenes[i] = sf
	}
	return fsutil.WriteJSON(fsys, path, idx)
}
