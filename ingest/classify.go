package ingest

import (
	"net/url"
	"path"
	"strings"

	"github.com/cairnstack/cairn/types"
)

// Class discriminates archive entry roles.
type Class int

const (
	// ClassIgnored marks entries the pipeline skips.
	ClassIgnored Class = iota
	// ClassConfig marks the batch configuration directive.
	ClassConfig
	// ClassKeep marks the keep-list directive.
	ClassKeep
	// ClassEnvelope marks a content envelope entry.
	ClassEnvelope
)

func (c Class) String() string {
	switch c {
	case ClassConfig:
		return "config"
	case ClassKeep:
		return "keep"
	case ClassEnvelope:
		return "envelope"
	default:
		return "ignored"
	}
}

// Classification is the dispatch decision for one entry path.
type Classification struct {
	Class Class
	// ContentID is set for ClassEnvelope: the percent-decoded base name
	// with the .json suffix stripped.
	ContentID string
}

// envelopeSuffix is the file suffix that marks an envelope entry.
const envelopeSuffix = ".json"

// Classify decides how an entry path is dispatched. Pure: it inspects the
// parent directory name and base name only, and has no side effects.
//
// Rules, in order:
//  1. Immediate parent directory "metadata": config.json and keep.json are
//     directives; any other base name is ignored.
//  2. Base name ending in .json: an envelope whose content ID is the
//     percent-decoded base name minus the suffix.
//  3. Anything else is ignored.
func Classify(entryPath string) Classification {
	cleaned := strings.TrimSuffix(entryPath, "/")
	base := path.Base(cleaned)
	parent := path.Base(path.Dir(cleaned))

	if parent == types.MetadataDir {
		switch base {
		case types.ConfigEntryName:
			return Classification{Class: ClassConfig}
		case types.KeepEntryName:
			return Classification{Class: ClassKeep}
		default:
			return Classification{Class: ClassIgnored}
		}
	}

	if strings.HasSuffix(base, envelopeSuffix) {
		id, err := url.PathUnescape(strings.TrimSuffix(base, envelopeSuffix))
		if err != nil || id == "" {
			return Classification{Class: ClassIgnored}
		}
		return Classification{Class: ClassEnvelope, ContentID: id}
	}

	return Classification{Class: ClassIgnored}
}
