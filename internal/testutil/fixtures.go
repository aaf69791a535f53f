package testutil

import "github.com/lemonberrylabs/cohort-reporting/pkg/definition"

// Definitions returns a fresh set of sample definitions:
//
//	Male            gender, no parameters
//	EnrolledOnDate  patient-state, untilDate (Date)
//	AgeRange        age, minAge and maxAge (Number)
func Definitions() []*definition.Definition {
	return []*definition.Definition{
		{
			Name:        "Male",
			Description: "Patients whose gender is male",
			Kind:        definition.KindGender,
			Properties:  map[string]string{"maleIncluded": "true"},
		},
		{
			Name:        "EnrolledOnDate",
			Description: "Patients enrolled in a program on a given date",
			Kind:        definition.KindPatientState,
			Parameters: []definition.Parameter{
				definition.NewParameter("untilDate", "Until date", definition.TypeDate, ""),
			},
		},
		{
			Name:        "AgeRange",
			Description: "Patients within an age range",
			Kind:        definition.KindAge,
			Parameters: []definition.Parameter{
				definition.NewParameter("minAge", "Minimum age", definition.TypeNumber, "0"),
				definition.NewParameter("maxAge", "Maximum age", definition.TypeNumber, ""),
			},
		},
	}
}
