package yclients

import "encoding/json"

// envelope is the common YCLIENTS response wrapper. Success is a pointer
// because older endpoints omit the field entirely.
type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Meta    json.RawMessage `json:"meta"`
}

type recordsMeta struct {
	TotalCount int `json:"total_count"`
}

// Record is the raw booking payload as returned by the records endpoint.
// Field pairs (Attendance/VisitAttendance, Datetime/Date,
// SeanceLength/Length) are alternates that vary by API revision; the
// normalizer applies the fallbacks.
type Record struct {
	ID              int64       `json:"id"`
	StaffID         int64       `json:"staff_id"`
	Attendance      *int        `json:"attendance"`
	VisitAttendance *int        `json:"visit_attendance"`
	Datetime        string      `json:"datetime"`
	Date            string      `json:"date"`
	SeanceLength    json.Number `json:"seance_length"`
	Length          json.Number `json:"length"`
	LastChangeDate  string      `json:"last_change_date"`
	CreateDate      string      `json:"create_date"`
}

// RecordsPage is one page of bookings plus the reported total.
type RecordsPage struct {
	Records    []Record
	TotalCount int
}

// Staff is one entry of the staff list endpoint.
type Staff struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Company is one entry of the companies endpoint.
type Company struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}
