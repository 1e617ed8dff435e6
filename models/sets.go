package models

// cocoNames are the 80 COCO classes in YOLO (zero-based, no background) order.
var cocoNames = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat",
	"traffic light", "fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse",
	"sheep", "cow", "elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie",
	"suitcase", "frisbee", "skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup", "fork", "knife", "spoon",
	"bowl", "banana", "apple", "sandwich", "orange", "broccoli", "carrot", "hot dog", "pizza", "donut",
	"cake", "chair", "couch", "potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink", "refrigerator", "book",
	"clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

var vocNames = []string{
	"aeroplane", "bicycle", "bird", "boat", "bottle", "bus", "car", "cat", "chair", "cow",
	"diningtable", "dog", "horse", "motorbike", "person", "pottedplant", "sheep", "sofa", "train", "tvmonitor",
}

func mustNames(names []string) *ClassSet {
	s, err := FromNames(names...)
	if err != nil {
		panic(err)
	}
	return s
}

// COCO is the 80 class COCO registry as indexed by YOLO-family detectors.
var COCO = mustNames(cocoNames)

// PascalVOC is the 20 class Pascal VOC registry (no background).
var PascalVOC = mustNames(vocNames)

// Lookup returns a predefined registry by name ("coco" or "voc").
func Lookup(name string) (*ClassSet, bool) {
	switch name {
	case "coco", "yolo":
		return COCO, true
	case "voc":
		return PascalVOC, true
	default:
		return nil, false
	}
}
