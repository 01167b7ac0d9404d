package models

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
)

// OutputClass represents one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int `json:"index"`
	// The human-readable label.
	Name string `json:"name"`
}

// OutputClassSet ties a style to its full list of labels.
type OutputClassSet struct {
	// Class set identifier.
	Style ModelFamily `json:"style"`
	// Classes that are supported and mappable.
	Classes []OutputClass `json:"classes"`
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
	// idxToName for fast lookup by index
	idxToName map[int]string
}

// NewOutputClassSet builds a class set and its lookup maps.
func NewOutputClassSet(style ModelFamily, classes ...OutputClass) *OutputClassSet {
	set := &OutputClassSet{Style: style, Classes: classes}
	set.BuildNameIndexMap()
	return set
}

// BuildNameIndexMap builds or rebuilds the name<->index maps.
func (s *OutputClassSet) BuildNameIndexMap() {
	s.nameToIdx = make(map[string]int, len(s.Classes))
	s.idxToName = make(map[int]string, len(s.Classes))
	for _, c := range s.Classes {
		s.nameToIdx[c.Name] = c.Index
		s.idxToName[c.Index] = c.Name
	}
}

// Name returns the label for a class index. Unknown indices, and a nil set, fall back to the
// decimal index so a detection always has a printable name.
func (s *OutputClassSet) Name(idx int) string {
	if s == nil {
		return strconv.Itoa(idx)
	}
	if s.idxToName == nil {
		s.BuildNameIndexMap()
	}
	if name, ok := s.idxToName[idx]; ok {
		return name
	}
	return strconv.Itoa(idx)
}

// Index returns the class index for a given name.
func (s *OutputClassSet) Index(name string) (int, error) {
	if s.nameToIdx == nil {
		s.BuildNameIndexMap()
	}
	idx, ok := s.nameToIdx[name]
	if !ok {
		return -1, fmt.Errorf("name %q not found in style %q", name, s.Style)
	}
	return idx, nil
}

// GerminationClasses is the label map of the seed germination detector.
var GerminationClasses = NewOutputClassSet(
	ModelFamilyGermination,
	OutputClass{Index: 1, Name: "germinated"},
	OutputClass{Index: 2, Name: "ungerminated"},
)

// LoadLabelMap reads a TensorFlow object detection label map (label_map.pbtxt) from disk.
func LoadLabelMap(path string) (*OutputClassSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening label map: %w", err)
	}
	defer f.Close()

	return ParseLabelMap(f)
}

// ParseLabelMap parses the text format used by the TensorFlow object detection API:
//
//	item {
//	  id: 1
//	  name: 'germinated'
//	}
//
// Only the id and name (or display_name) fields are read. Items are returned ordered by id.
func ParseLabelMap(r io.Reader) (*OutputClassSet, error) {
	var (
		classes []OutputClass
		current *OutputClass
		hasID   bool
		line    int
	)

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		switch {
		case text == "" || strings.HasPrefix(text, "#"):
			continue
		case strings.HasPrefix(text, "item"):
			if current != nil {
				return nil, fmt.Errorf("line %d: nested item", line)
			}
			current, hasID = &OutputClass{}, false
		case text == "}":
			if current == nil {
				return nil, fmt.Errorf("line %d: unexpected }", line)
			}
			if !hasID {
				return nil, fmt.Errorf("line %d: item without id", line)
			}
			if current.Name == "" {
				current.Name = strconv.Itoa(current.Index)
			}
			classes = append(classes, *current)
			current = nil
		default:
			if current == nil {
				return nil, fmt.Errorf("line %d: field outside item", line)
			}
			key, value, ok := strings.Cut(text, ":")
			if !ok {
				return nil, fmt.Errorf("line %d: malformed field %q", line, text)
			}
			value = strings.Trim(strings.TrimSpace(value), `'"`)
			switch strings.TrimSpace(key) {
			case "id":
				id, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("line %d: invalid id %q: %w", line, value, err)
				}
				current.Index, hasID = id, true
			case "name":
				if current.Name == "" {
					current.Name = value
				}
			case "display_name":
				current.Name = value
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current != nil {
		return nil, fmt.Errorf("unterminated item")
	}

	sort.Slice(classes, func(i, j int) bool { return classes[i].Index < classes[j].Index })

	return NewOutputClassSet(ModelFamilyTF, classes...), nil
}
