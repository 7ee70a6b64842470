// Package railreader2 implements the coordination layer behind rail mode, a
// high-magnification reading assist for low-vision PDF readers. It turns a
// rasterized page plus a layout detector's raw output into navigable blocks
// and lines, drives the line-by-line snap/scroll state machine, and
// schedules the asynchronous re-rasterization and inference work a zoomed-in
// viewport needs.
//
// The PDF rasterizer, the layout detector's model runtime, and the GUI
// toolkit are external collaborators; this package only consumes the narrow
// interfaces described in Rasterizer and Detector.
package railreader2
