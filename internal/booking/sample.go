package booking

// SampleRows returns the reservation sheet of a holiday apartment in Rome for
// spring 2025, in the shape the booking platform exports it.
func SampleRows() []Row {
	type sample struct {
		name     string
		adults   int
		children int
		ages     []int
		checkIn  string
		checkOut string
		status   string
	}
	data := []sample{
		{"Fabio Minella", 2, 0, nil, "2025-03-15", "2025-03-16", "OK"},
		{"Alessandra Nardiello", 2, 0, nil, "2025-04-17", "2025-04-18", "OK"},
		{"Giulia Cola", 2, 0, nil, "2025-04-18", "2025-04-21", "Cancellata"},
		{"Victoriia Nahorna", 3, 0, nil, "2025-04-19", "2025-04-21", "OK"},
		{"Alessia Raffaeli", 2, 1, []int{3}, "2025-04-25", "2025-04-27", "Cancellata"},
		{"Lars Haubner", 1, 0, nil, "2025-04-25", "2025-04-27", "OK"},
		{"Motlagh Zahra", 1, 0, nil, "2025-04-29", "2025-05-05", "OK"},
		{"Roberto Trifiletti", 1, 0, nil, "2025-05-07", "2025-05-08", "OK"},
		{"Mazzariol Claudia", 2, 0, nil, "2025-05-08", "2025-05-09", "OK"},
		{"Mirko Rossi", 2, 1, []int{7}, "2025-05-09", "2025-05-11", "OK"},
		{"Luca Rapis", 2, 0, nil, "2025-05-11", "2025-05-15", "OK"},
		{"Giorgio Lo Iacono", 2, 1, []int{1}, "2025-05-15", "2025-05-18", "OK"},
		{"Maya Robnett", 1, 0, nil, "2025-05-21", "2025-05-27", "OK"},
		{"Mathias Karine", 2, 0, nil, "2025-05-29", "2025-06-03", "OK"},
		{"Ciari Denise", 2, 0, nil, "2025-06-07", "2025-06-08", "OK"},
		{"Alexis Zuguem", 1, 0, nil, "2025-06-09", "2025-06-12", "Mancata presentazione"},
		{"Frigerio Laura", 2, 1, []int{13}, "2025-06-14", "2025-06-15", "OK"},
		{"Cataldo Monteleone", 2, 0, nil, "2025-06-19", "2025-06-20", "OK"},
		{"Janaka Bellana Vithanage", 2, 1, []int{2}, "2025-06-20", "2025-06-26", "OK"},
		{"Marino Tinelli", 2, 0, nil, "2025-06-26", "2025-06-28", "OK"},
		{"Federica Gatta", 3, 0, nil, "2025-06-28", "2025-06-29", "OK"},
		{"Giulia Ciot", 2, 0, nil, "2025-07-21", "2025-07-22", "OK"},
	}
	rows := make([]Row, 0, len(data))
	for _, d := range data {
		row := Row{
			"Nome":      d.name,
			"Adulti":    d.adults,
			"Bambini":   d.children,
			"Check-in":  d.checkIn,
			"Check-out": d.checkOut,
			"Stato":     d.status,
		}
		if len(d.ages) > 0 {
			row["Età bambini"] = d.ages
		}
		rows = append(rows, row)
	}
	return rows
}
