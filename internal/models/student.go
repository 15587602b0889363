package models

import "time"

// Student represents a learner registered by a guardian account.
type Student struct {
	ID                string    `db:"id" json:"id"`
	GuardianID        string    `db:"guardian_id" json:"guardian_id"`
	Matricula         *string   `db:"matricula" json:"matricula,omitempty"`
	FullName          string    `db:"full_name" json:"full_name"`
	Age               int       `db:"age" json:"age"`
	CourseInterest    string    `db:"course_interest" json:"course_interest"`
	ScheduleCategory  string    `db:"schedule_category" json:"schedule_category"`
	Email             string    `db:"email" json:"email"`
	SiblingEnrolled   bool      `db:"sibling_enrolled" json:"sibling_enrolled"`
	SiblingName       *string   `db:"sibling_name" json:"sibling_name,omitempty"`
	HasAllergies      bool      `db:"has_allergies" json:"has_allergies"`
	AllergyDetails    *string   `db:"allergy_details" json:"allergy_details,omitempty"`
	MedicationAllergy bool      `db:"medication_allergy" json:"medication_allergy"`
	MedicationDetails *string   `db:"medication_details" json:"medication_details,omitempty"`
	ReferralSource    *string   `db:"referral_source" json:"referral_source,omitempty"`
	ReferralOther     *string   `db:"referral_other" json:"referral_other,omitempty"`
	RegisteredAt      time.Time `db:"registered_at" json:"registered_at"`
}

// StudentFilter encapsulates allowed search parameters for listing students.
type StudentFilter struct {
	Search     string
	GuardianID string
	Page       int
	PageSize   int
	SortBy     string
	SortOrder  string
}
