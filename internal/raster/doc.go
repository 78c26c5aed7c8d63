// Package raster is the raster provider shared by every model: georeferenced
// grids with one or more typed bands, a declared nodata sentinel per band and
// block-wise read/write.
//
// Rasters are stored as netCDF classic files. Each band is a two-dimensional
// variable over the ("y", "x") dimensions; the affine geotransform, the
// projection descriptor and the natural block size are global attributes and
// the nodata sentinel is the band's _FillValue. Any netCDF classic file that
// carries those attributes can be opened; anything else is rejected as an
// unsupported format.
//
// The AlignmentFrame of a raster is a *Frame value shared by reference between
// every raster on the same pixel lattice.
package raster
