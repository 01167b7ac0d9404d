// Package models - Definitions for model output class styles and sets.
package models

// ModelFamily is the family of models a class set belongs to.
type ModelFamily string

const (
	// ModelFamilyTF is a TensorFlow object detection API export with 1-based label ids.
	ModelFamilyTF ModelFamily = "tf"
	// ModelFamilyGermination is the two class seed germination detector.
	ModelFamilyGermination ModelFamily = "germination"
)
