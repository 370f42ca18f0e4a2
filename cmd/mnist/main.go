// The mnist command converts the MNIST IDX files under $BOLTZMANN_DATA/mnist to gob data sets
// with pixel values scaled to [0,1]. With -embedded the copy of the data compiled into
// github.com/unixpickle/mnist is used instead.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/finderp/boltzmann-machines/nnet"
	"github.com/unixpickle/mnist"
	"gonum.org/v1/gonum/mat"
)

type labelHeader struct{ Magic, Num uint32 }

type imageHeader struct{ Magic, Num, Height, Width uint32 }

func main() {
	var embedded bool
	flag.BoolVar(&embedded, "embedded", false, "use data set bundled with the unixpickle/mnist package")
	flag.Parse()

	// mnist dataset is 60000 train + 10000 test images
	var train, test *nnet.Data
	var err error
	if embedded {
		train, err = fromDataSet(mnist.LoadTrainingDataSet())
		nnet.CheckErr(err)
		test, err = fromDataSet(mnist.LoadTestingDataSet())
		nnet.CheckErr(err)
	} else {
		train, err = loadData("train-images-idx3-ubyte", "train-labels-idx1-ubyte")
		nnet.CheckErr(err)
		test, err = loadData("t10k-images-idx3-ubyte", "t10k-labels-idx1-ubyte")
		nnet.CheckErr(err)
	}

	nnet.CheckErr(nnet.SaveDataFile(train, "mnist_train"))
	nnet.CheckErr(nnet.SaveDataFile(test, "mnist_test"))
}

func loadData(imageFile, labelFile string) (*nnet.Data, error) {
	labels, err := readLabels(labelFile)
	if err != nil {
		return nil, err
	}
	X, h, w, err := readImages(imageFile)
	if err != nil {
		return nil, err
	}
	if rows, _ := X.Dims(); rows != len(labels) {
		return nil, fmt.Errorf("%s has %d images but %s has %d labels", imageFile, rows, labelFile, len(labels))
	}
	d := nnet.NewData(X, h, w)
	d.Labels = labels
	return d, d.Validate()
}

// intensities in the bundled set are already in [0,1]
func fromDataSet(ds mnist.DataSet) (*nnet.Data, error) {
	n, size := len(ds.Samples), ds.Width*ds.Height
	if n == 0 {
		return nil, fmt.Errorf("mnist: empty data set")
	}
	X := mat.NewDense(n, size, nil)
	labels := make([]int32, n)
	for i, s := range ds.Samples {
		if len(s.Intensities) != size {
			return nil, fmt.Errorf("mnist: sample %d has %d pixels, expecting %d", i, len(s.Intensities), size)
		}
		X.SetRow(i, s.Intensities)
		labels[i] = int32(s.Label)
	}
	fmt.Printf("loaded %d %dx%d images\n", n, ds.Height, ds.Width)
	d := nnet.NewData(X, ds.Height, ds.Width)
	d.Labels = labels
	return d, d.Validate()
}

func readImages(name string) (X *mat.Dense, h, w int, err error) {
	var f *os.File
	if f, err = os.Open(path.Join(nnet.DataDir, "mnist", name)); err != nil {
		return
	}
	defer f.Close()
	var head imageHeader
	if err = binary.Read(f, binary.BigEndian, &head); err != nil {
		return
	}
	if head.Magic != 0x803 {
		err = fmt.Errorf("%s: bad magic number %x", name, head.Magic)
		return
	}
	n := int(head.Num)
	h, w = int(head.Height), int(head.Width)
	fmt.Printf("read %d %dx%d images from %s\n", n, h, w, name)
	pixels := make([]uint8, n*h*w)
	if _, err = io.ReadFull(f, pixels); err != nil {
		return
	}
	data := make([]float64, len(pixels))
	for i, pix := range pixels {
		data[i] = float64(pix) / 255
	}
	return mat.NewDense(n, h*w, data), h, w, nil
}

func readLabels(name string) (labels []int32, err error) {
	var f *os.File
	if f, err = os.Open(path.Join(nnet.DataDir, "mnist", name)); err != nil {
		return
	}
	defer f.Close()
	var head labelHeader
	if err = binary.Read(f, binary.BigEndian, &head); err != nil {
		return
	}
	fmt.Printf("read %d labels from %s\n", head.Num, name)
	bytes := make([]byte, head.Num)
	if _, err = io.ReadFull(f, bytes); err != nil {
		return
	}
	labels = make([]int32, head.Num)
	for i, label := range bytes {
		labels[i] = int32(label)
	}
	return
}
