// Package domain models monthly station temperature records and the
// algorithm that reconciles duplicates of the same physical station.
//
// # Data Source
//
// Upstream readers collect monthly mean temperature series for the
// same station from several observing networks (MCDW bulletins, the
// USHCN v2 network, summary-of-day archives, and uncategorized
// digitized sources). The networks overlap in time, disagree by a
// roughly constant instrument bias, and individually contain gaps.
// Each source record is published to the source topic as flat JSON,
// one message per record, grouped consecutively by station.
//
// # Record Conventions
//
// Identifiers:
//
//	The first 11 bytes of a record UID name the physical station; the
//	remainder distinguishes the source record. All records sharing the
//	station key describe the same instrument site.
//
// Series layout:
//
//	One float64 per month starting in January of FirstYear, length an
//	exact multiple of 12, in °C. The value 9999 is the sentinel for
//	"no observation" and is excluded from every statistic — it is
//	never treated as zero and never propagated as NaN.
//
// First-year alignment:
//
//	Within one station group every record starts in the same calendar
//	year. The upstream reader pads records to guarantee this; a
//	violation here is a programming error, not bad data.
//
// # Reconciliation
//
// Records of one station are merged in two passes. The strict pass
// seeds each merge round with the best-quality record and folds in
// candidates whose annual-anomaly overlap with the running composite
// is long enough to estimate a stable bias, which is removed before
// averaging. Records whose overlap is too short for a bias estimate
// get a second chance in the loose pass: a window grown around the
// middle of the common span must show the two series agreeing more
// closely than the composite's own year-to-year variability.
//
// Annual anomalies come from MonthlyAnnual: monthly anomalies against
// per-calendar-month means, aggregated into four three-month seasons
// (December counting toward the following year), then into years.
// Season and year values require 2-of-3 and 3-of-4 valid inputs
// respectively, so a single missing month rarely kills a year.
//
// Between the passes, ApplyAdjustment corrects documented station
// discontinuities (a move or instrument change) by adding a constant
// to the early part of the affected record.
package domain
