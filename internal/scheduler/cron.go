// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CronExpr is a parsed standard 5-field cron expression. Each field is kept
// as a fixed-size membership set rather than a sorted slice: field values
// are small and bounded (0-59 at most), so a bool array answers "does this
// field match?" in O(1) without a dedup/sort pass over parsed values.
type CronExpr struct {
	minute     [60]bool
	hour       [24]bool
	dayOfMonth [32]bool // index 0 unused, days run 1-31
	month      [13]bool // index 0 unused, months run 1-12
	dayOfWeek  [7]bool
}

var monthNames = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var dayNames = map[string]int{
	"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
}

var namedShorthands = map[string]string{
	"@hourly":   "0 * * * *",
	"@daily":    "0 0 * * *",
	"@midnight": "0 0 * * *",
	"@weekly":   "0 0 * * 0",
	"@monthly":  "0 0 1 * *",
	"@yearly":   "0 0 1 1 *",
	"@annually": "0 0 1 1 *",
}

// ParseCron parses a cron expression of the form
// "minute hour day-of-month month day-of-week". The month and day-of-week
// fields additionally accept three-letter names (JAN..DEC, SUN..SAT, case
// insensitive) anywhere a number is allowed, including in ranges. The
// @hourly/@daily/@weekly/@monthly/@yearly shorthands are also recognized.
func ParseCron(expr string) (*CronExpr, error) {
	expr = strings.TrimSpace(expr)
	if expanded, ok := namedShorthands[strings.ToLower(expr)]; ok {
		expr = expanded
	}

	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return nil, fmt.Errorf("expected 5 fields, got %d", len(fields))
	}

	c := &CronExpr{}

	minutes, err := expandField(fields[0], 0, 59, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid minute field: %w", err)
	}
	for _, v := range minutes {
		c.minute[v] = true
	}

	hours, err := expandField(fields[1], 0, 23, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid hour field: %w", err)
	}
	for _, v := range hours {
		c.hour[v] = true
	}

	doms, err := expandField(fields[2], 1, 31, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-month field: %w", err)
	}
	for _, v := range doms {
		c.dayOfMonth[v] = true
	}

	months, err := expandField(fields[3], 1, 12, monthNames)
	if err != nil {
		return nil, fmt.Errorf("invalid month field: %w", err)
	}
	for _, v := range months {
		c.month[v] = true
	}

	dows, err := expandField(fields[4], 0, 6, dayNames)
	if err != nil {
		return nil, fmt.Errorf("invalid day-of-week field: %w", err)
	}
	for _, v := range dows {
		c.dayOfWeek[v] = true
	}

	return c, nil
}

// expandField parses a comma-separated cron field into its matching values.
// names, when non-nil, maps three-letter tokens (lowercased) to their
// numeric value for fields that accept them (month, day-of-week).
func expandField(field string, min, max int, names map[string]int) ([]int, error) {
	var result []int
	for _, part := range strings.Split(field, ",") {
		values, err := expandFieldPart(part, min, max, names)
		if err != nil {
			return nil, err
		}
		result = append(result, values...)
	}
	return result, nil
}

func expandFieldPart(part string, min, max int, names map[string]int) ([]int, error) {
	step := 1
	if idx := strings.IndexByte(part, '/'); idx != -1 {
		n, err := strconv.Atoi(part[idx+1:])
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid step: %s", part[idx+1:])
		}
		step = n
		part = part[:idx]
	}

	var start, end int
	switch {
	case part == "*":
		start, end = min, max
	case strings.ContainsRune(part, '-'):
		idx := strings.IndexByte(part, '-')
		lo, err := resolveToken(part[:idx], names)
		if err != nil {
			return nil, err
		}
		hi, err := resolveToken(part[idx+1:], names)
		if err != nil {
			return nil, err
		}
		start, end = lo, hi
	default:
		v, err := resolveToken(part, names)
		if err != nil {
			return nil, err
		}
		start, end = v, v
	}

	if start < min || start > max || end < min || end > max || start > end {
		return nil, fmt.Errorf("value out of range [%d-%d]: %s", min, max, part)
	}

	result := make([]int, 0, (end-start)/step+1)
	for i := start; i <= end; i += step {
		result = append(result, i)
	}
	return result, nil
}

// resolveToken converts a single field token to its integer value, trying
// the name table (for month/day-of-week fields) before falling back to a
// plain numeric parse.
func resolveToken(token string, names map[string]int) (int, error) {
	if names != nil {
		if v, ok := names[strings.ToLower(token)]; ok {
			return v, nil
		}
	}
	v, err := strconv.Atoi(token)
	if err != nil {
		return 0, fmt.Errorf("invalid value: %s", token)
	}
	return v, nil
}

// Next returns the next matching time strictly after from, in from's
// location. Callers pass a time already converted to the trigger's
// configured timezone.
func (c *CronExpr) Next(from time.Time) time.Time {
	t := from.Truncate(time.Minute).Add(time.Minute)
	deadline := from.Add(4 * 365 * 24 * time.Hour)

	for t.Before(deadline) {
		if !c.month[int(t.Month())] {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !(c.dayOfMonth[t.Day()] && c.dayOfWeek[int(t.Weekday())]) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, t.Location())
			continue
		}
		if !c.hour[t.Hour()] {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, t.Location())
			continue
		}
		if !c.minute[t.Minute()] {
			t = t.Add(time.Minute)
			continue
		}
		return t
	}
	return time.Time{}
}
