package patient

// Snapshot is the read-only patient context Doc reasons over. Field names follow
// the records written by the symptom and behavior logging collaborators.
type Snapshot struct {
	User              Profile       `yaml:"user" json:"user"`
	Conditions        []Condition   `yaml:"conditions" json:"conditions"`
	Medications       []Medication  `yaml:"medications" json:"medications"`
	Symptoms          []Symptom     `yaml:"symptoms" json:"symptoms"`
	ObservationsDaily []Observation `yaml:"observations_daily" json:"observations_daily"`
}

// Profile holds demographics and history.
type Profile struct {
	Name          string   `yaml:"name" json:"name"`
	DOB           string   `yaml:"dob" json:"dob"`
	Gender        string   `yaml:"gender" json:"gender"`
	HeightCM      *float64 `yaml:"height_cm" json:"height_cm"`
	WeightKG      *float64 `yaml:"weight_kg" json:"weight_kg"`
	Allergies     []string `yaml:"allergies" json:"allergies"`
	FamilyHistory []string `yaml:"family_history" json:"family_history"`
}

type Condition struct {
	Label  string `yaml:"label" json:"label"`
	Status string `yaml:"status" json:"status"`
}

type Medication struct {
	Name       string `yaml:"name" json:"name"`
	Dose       string `yaml:"dose" json:"dose"`
	Frequency  string `yaml:"frequency" json:"frequency"`
	Indication string `yaml:"indication" json:"indication"`
}

type Symptom struct {
	OnsetDate  string   `yaml:"onset_date" json:"onset_date"`
	Label      string   `yaml:"label" json:"label"`
	Severity   *float64 `yaml:"severity" json:"severity"`
	BodyRegion string   `yaml:"body_region" json:"body_region"`
	Notes      string   `yaml:"notes" json:"notes"`
}

// Observation is one day of behavior metrics.
type Observation struct {
	Date     string   `yaml:"date" json:"date"`
	SleepMin *float64 `yaml:"sleep_min" json:"sleep_min"`
	Steps    *int     `yaml:"steps" json:"steps"`
	WaterOz  *float64 `yaml:"water_oz" json:"water_oz"`
}

// RecentSymptoms returns at most n of the latest symptoms, oldest first.
func (s *Snapshot) RecentSymptoms(n int) []Symptom {
	if s == nil {
		return nil
	}
	return tail(s.Symptoms, n)
}

// RecentObservations returns at most n of the latest daily observations, oldest first.
func (s *Snapshot) RecentObservations(n int) []Observation {
	if s == nil {
		return nil
	}
	return tail(s.ObservationsDaily, n)
}

func tail[T any](items []T, n int) []T {
	if n <= 0 || len(items) == 0 {
		return nil
	}
	if len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}
