// Package stage materializes a downloaded competition archive into the raw
// dataset layout.
//
// # Layout
//
// Every path derives from an explicit dataset root:
//
//	<root>/raw/zip/        input archive (never modified)
//	<root>/raw/staging/    first-level extraction
//	<root>/raw/csv/        final table files
//	<root>/data_warehouse/ columnar output, populated by package warehouse
//
// # Run
//
// [Stager.Run] is a strictly linear, single-pass batch job:
//
//  1. Ensure the four directories with [EnsureLayout].
//  2. Check that the archive exists before touching any output.
//  3. Remove stale tables from csv/ with [CleanStale].
//  4. Extract the archive into staging/ with [ExtractArchive].
//  5. Distribute staging/: nested "*.csv.zip" archives are extracted into csv/
//     and removed, plain "*.csv" tables are renamed into csv/, anything else
//     stays in staging/ and is reported as skipped.
//
// The first error aborts the run. Nothing is rolled back; rerunning is safe
// because step 3 always clears previous output.
//
// # Error Handling
//
// Failures wrap one of the sentinel errors in errors.go so callers can branch
// with errors.Is. [MapError] turns them into coded user messages.
package stage
