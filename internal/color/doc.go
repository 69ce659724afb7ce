// Package color holds the terminal styles shared by the console report, the
// result table and the interactive view.
//
// Styles are adaptive: Initialize selects the dark or light variant once at
// startup, and NO_COLOR disables colour output altogether.
//
//	color.Initialize(true)
//	fmt.Println(color.SucceededStyle.Render("✓"))
package color
