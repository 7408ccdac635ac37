package rules

import (
	"sort"
	"strings"
)

// Class is a detection class in the engine's taxonomy. Detectors report
// free-form labels; rules only ever speak in Classes.
type Class string

const (
	ClassPerson  Class = "person"
	ClassVehicle Class = "vehicle"
	ClassAnimal  Class = "animal"
	ClassFace    Class = "face"
	ClassPlate   Class = "plate"
	ClassPackage Class = "package"
	ClassMotion  Class = "motion"
)

// classMap maps raw detector class names onto the taxonomy.
var classMap = map[string]Class{
	"person":        ClassPerson,
	"people":        ClassPerson,
	"vehicle":       ClassVehicle,
	"car":           ClassVehicle,
	"truck":         ClassVehicle,
	"bus":           ClassVehicle,
	"van":           ClassVehicle,
	"motorcycle":    ClassVehicle,
	"motorbike":     ClassVehicle,
	"bicycle":       ClassVehicle,
	"boat":          ClassVehicle,
	"animal":        ClassAnimal,
	"dog":           ClassAnimal,
	"cat":           ClassAnimal,
	"bird":          ClassAnimal,
	"horse":         ClassAnimal,
	"sheep":         ClassAnimal,
	"cow":           ClassAnimal,
	"bear":          ClassAnimal,
	"deer":          ClassAnimal,
	"fox":           ClassAnimal,
	"face":          ClassFace,
	"plate":         ClassPlate,
	"license_plate": ClassPlate,
	"package":       ClassPackage,
	"parcel":        ClassPackage,
	"motion":        ClassMotion,
}

// MapClass resolves a raw detector class name. Lookup is case-insensitive.
func MapClass(raw string) (Class, bool) {
	c, ok := classMap[strings.ToLower(strings.TrimSpace(raw))]
	return c, ok
}

// Classes returns the taxonomy in lexical order.
func Classes() []Class {
	seen := make(map[Class]struct{})
	for _, c := range classMap {
		seen[c] = struct{}{}
	}
	out := make([]Class, 0, len(seen))
	for c := range seen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
