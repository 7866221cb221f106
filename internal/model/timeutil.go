package model

import "time"

// Time returns the fix's wall-clock fields as a UTC time.Time.
func (f GpsFix) Time() time.Time {
	return time.Date(f.Year, time.Month(f.Month), f.Day, f.Hour, f.Minute, f.Second, 0, time.UTC)
}

// FixFromTime fills the wall-clock fields of a GpsFix from a UTC time,
// leaving the geodetic/motion fields at their zero values.
func FixFromTime(t time.Time) GpsFix {
	t = t.UTC()
	return GpsFix{
		Year: t.Year(), Month: int(t.Month()), Day: t.Day(),
		Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(),
		ScheduleEpoch: t.Unix(),
	}
}
