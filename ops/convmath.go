package ops

import (
	"github.com/gomlx/opgraph/datum"
	"github.com/gomlx/opgraph/internal/linalg"
	"github.com/gomlx/opgraph/padding"
	"github.com/gomlx/opgraph/tensor"
	"github.com/pkg/errors"
)

// rowMajorStrides returns the row-major (C order) strides for dims.
func rowMajorStrides(dims []int64) []int64 {
	strides := make([]int64, len(dims))
	acc := int64(1)
	for i := len(dims) - 1; i >= 0; i-- {
		strides[i] = acc
		acc *= dims[i]
	}
	return strides
}

func flatIndex(strides, idx []int64) int64 {
	var f int64
	for i, s := range strides {
		f += s * idx[i]
	}
	return f
}

// forEachIndex enumerates every multi-index within dims in row-major order,
// calling fn with a reusable index slice. fn must not retain the slice.
func forEachIndex(dims []int64, fn func(idx []int64)) {
	if len(dims) == 0 {
		fn(nil)
		return
	}
	idx := make([]int64, len(dims))
	for {
		fn(idx)
		i := len(dims) - 1
		for i >= 0 {
			idx[i]++
			if idx[i] < dims[i] {
				break
			}
			idx[i] = 0
			i--
		}
		if i < 0 {
			return
		}
	}
}

func product(dims []int64) int64 {
	p := int64(1)
	for _, d := range dims {
		p *= d
	}
	return p
}

// Eval computes the convolution directly: a nested-loop reference
// implementation that accumulates each output element as a dot product of
// its receptive field against the matching kernel slice, via the
// linear-algebra collaborator.
func (u *ConvUnary) Eval(inputs []*tensor.Tensor) ([]*tensor.Tensor, error) {
	if len(inputs) != 1 {
		return nil, errors.Errorf("ConvUnary requires exactly 1 input, got %d", len(inputs))
	}
	data := inputs[0]
	rank := data.Rank()
	spatialRank := rank - 2
	if spatialRank < 0 {
		return nil, errors.Errorf("ConvUnary: input rank %d too small", rank)
	}

	dataF64, err := data.CastTo(datum.F64)
	if err != nil {
		return nil, err
	}
	kernelF64, err := u.Kernel.CastTo(datum.F64)
	if err != nil {
		return nil, err
	}
	var biasF64 *tensor.Tensor
	if u.Bias != nil {
		biasF64, err = u.Bias.CastTo(datum.F64)
		if err != nil {
			return nil, err
		}
	}

	outShape, err := u.OutputShape(data.Shape(), u.Kernel.Shape())
	if err != nil {
		return nil, err
	}
	outDims, err := outShape.ToConcreteInts()
	if err != nil {
		return nil, err
	}

	dataDims := data.Dims()
	kernelDims := u.Kernel.Dims()
	dataChAxis := u.DataFormat.ChannelAxis(rank)
	dataSpatialStart := u.DataFormat.SpatialStart(rank)
	kernelSpatialStart := u.KernelFormat.spatialStart()
	group := u.groupOrDefault()

	outChannels := outDims[dataChAxis]
	inChannels := dataDims[dataChAxis]
	outChannelsPerGroup := outChannels / group
	inChannelsPerGroup := inChannels / group

	dilations := fillOrDefault(u.Dilations, spatialRank)
	strides := fillOrDefault(u.Strides, spatialRank)

	begins := make([]int64, spatialRank)
	for i := 0; i < spatialRank; i++ {
		a, err := padding.Compute(dataDims[dataSpatialStart+i], kernelDims[kernelSpatialStart+i], dilations[i], strides[i], u.Padding.Mode, u.Padding.explicitFor(i))
		if err != nil {
			return nil, err
		}
		begins[i] = a.Before
	}

	dataFlat := dataF64.Flat().([]float64)
	kernelFlat := kernelF64.Flat().([]float64)
	dataStrides := rowMajorStrides(dataDims)
	kernelStrides := rowMajorStrides(kernelDims)
	outStrides := rowMajorStrides(outDims)

	out := make([]float64, product(outDims))

	outSpatialDims := append([]int64(nil), outDims[dataSpatialStart:dataSpatialStart+spatialRank]...)
	kernelSpatialDims := append([]int64(nil), kernelDims[kernelSpatialStart:kernelSpatialStart+spatialRank]...)

	outerDims := append([]int64{dataDims[0], group, outChannelsPerGroup}, outSpatialDims...)
	innerDims := append([]int64{inChannelsPerGroup}, kernelSpatialDims...)
	receptiveSize := product(innerDims)

	receptive := make([]float64, receptiveSize)
	kernelVec := make([]float64, receptiveSize)
	dataCoord := make([]int64, rank)
	kernelCoord := make([]int64, rank)
	outCoord := make([]int64, rank)

	forEachIndex(outerDims, func(o []int64) {
		b, g, ocg := o[0], o[1], o[2]
		outSpatial := o[3:]
		oc := g*outChannelsPerGroup + ocg

		outCoord[0] = b
		outCoord[dataChAxis] = oc
		for i := 0; i < spatialRank; i++ {
			outCoord[dataSpatialStart+i] = outSpatial[i]
		}

		k := 0
		forEachIndex(innerDims, func(in []int64) {
			ic := in[0]
			kSpatial := in[1:]
			icGlobal := g*inChannelsPerGroup + ic

			dataCoord[0] = b
			dataCoord[dataChAxis] = icGlobal
			inBounds := true
			for i := 0; i < spatialRank; i++ {
				coord := outSpatial[i]*strides[i] - begins[i] + kSpatial[i]*dilations[i]
				if coord < 0 || coord >= dataDims[dataSpatialStart+i] {
					inBounds = false
				}
				dataCoord[dataSpatialStart+i] = coord
			}
			if inBounds {
				receptive[k] = dataFlat[flatIndex(dataStrides, dataCoord)]
			} else {
				receptive[k] = 0
			}

			if u.KernelFormat == OIHW {
				kernelCoord[0] = oc
				kernelCoord[1] = ic
			} else {
				kernelCoord[rank-1] = ocg
				kernelCoord[rank-2] = ic
			}
			for i := 0; i < spatialRank; i++ {
				kernelCoord[kernelSpatialStart+i] = kSpatial[i]
			}
			kernelVec[k] = kernelFlat[flatIndex(kernelStrides, kernelCoord)]
			k++
		})

		sum := linalg.Dot64(receptive, kernelVec)
		if biasF64 != nil {
			sum += biasF64.Flat().([]float64)[oc]
		}
		if u.QParams != nil {
			sum *= u.QParams.Scale
		}
		out[flatIndex(outStrides, outCoord)] = sum
	})

	resultF64, err := tensor.FromFlat(datum.F64, outDims, out)
	if err != nil {
		return nil, err
	}
	result, err := resultF64.CastTo(u.OutputDType)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{result}, nil
}
