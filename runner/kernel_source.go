package runner

import (
	"fmt"
	"strings"
)

// GeneratePreamble emits the band geometry and kernel weights layout as
// compile-time constants
func (kr *Runner) GeneratePreamble() string {
	var sb strings.Builder

	sb.WriteString("typedef int cell_t;\n\n")
	sb.WriteString(fmt.Sprintf("#define DIM %d\n", kr.Dim))
	sb.WriteString(fmt.Sprintf("#define NROWS %d\n", kr.NRows))
	sb.WriteString(fmt.Sprintf("#define KDIM %d\n", kr.Kernel.Dim))
	sb.WriteString(fmt.Sprintf("#define HALF %d\n", kr.Kernel.HalfWidth()))
	sb.WriteString("\n")

	kr.KernelPreamble = sb.String()
	return kr.KernelPreamble
}

// One @outer iteration per band row, one @inner iteration per column. The
// sub-grid carries HALF halo rows above and below the band; columns that
// would leave the row are skipped.
const convolveKernelSource = `
@kernel void convolveBand(const cell_t* subgrid,
                          const cell_t* weights,
                          cell_t* band) {
    for (int row = 0; row < NROWS; ++row; @outer) {
        for (int col = 0; col < DIM; ++col; @inner) {
            const int cell = (row + HALF)*DIM + col;
            cell_t sum = 0;
            for (int dc = -HALF; dc <= HALF; ++dc) {
                if (col + dc < 0 || col + dc >= DIM) {
                    continue;
                }
                for (int dr = -HALF; dr <= HALF; ++dr) {
                    sum += subgrid[cell + dr*DIM + dc]*weights[(HALF + dr)*KDIM + HALF + dc];
                }
            }
            band[row*DIM + col] = sum;
        }
    }
}
`
