package stub

import "github.com/aretw0/sasya/pkg/ports"

// Library is the default treatment corpus.
var Library = []ports.Document{
	{
		ID: "early_blight-1", Title: "Mancozeb 75% WP", Kind: "chemical", Source: "icar",
		Content: "Spray 2.5 g per litre of water at the first sign of lesions; repeat every 10 days.",
	},
	{
		ID: "early_blight-2", Title: "Neem oil spray", Kind: "organic", Source: "icar",
		Content: "Mix 5 ml neem oil with 1 litre water and a drop of soap; spray leaves weekly.",
	},
	{
		ID: "early_blight-3", Title: "Crop rotation and debris removal", Source: "icar",
		Content: "Remove infected lower leaves and rotate with non-solanaceous crops for two seasons.",
	},
	{
		ID: "late_blight-1", Title: "Metalaxyl + Mancozeb", Kind: "chemical", Source: "icar",
		Content: "Apply 2 g per litre as soon as water-soaked patches appear; do not exceed 3 sprays.",
	},
	{
		ID: "late_blight-2", Title: "Copper hydroxide (organic approved)", Kind: "organic", Source: "icar",
		Content: "Spray 2 g per litre in cool, humid weather before symptoms spread.",
	},
	{
		ID: "late_blight-3", Title: "Avoid overhead irrigation", Source: "icar",
		Content: "Water at the base in the morning and keep spacing wide so foliage dries quickly.",
	},
	{
		ID: "powdery_mildew-1", Title: "Wettable sulphur", Kind: "chemical", Source: "kvk",
		Content: "Dust or spray 3 g per litre at 15-day intervals.",
	},
	{
		ID: "powdery_mildew-2", Title: "Baking soda solution", Kind: "organic", Source: "kvk",
		Content: "One tablespoon of baking soda and half a teaspoon of liquid soap per 4 litres of water.",
	},
	{
		ID: "leaf_curl-1", Title: "Imidacloprid for whitefly control", Kind: "chemical", Source: "kvk",
		Content: "Spray 0.3 ml per litre to control the whitefly vector.",
	},
	{
		ID: "leaf_curl-2", Title: "Yellow sticky traps", Kind: "preventive", Source: "kvk",
		Content: "Install 10 traps per acre and uproot infected plants early.",
	},
}

// Directory is the default vendor list.
var Directory = []ports.Vendor{
	{
		Name: "Kisan Agro Centre", Location: "Pune", Contact: "+91 20 5550 0101",
		DistanceKm: 3.2, Price: 420, Products: []string{"Mancozeb 75% WP", "Metalaxyl + Mancozeb"},
		Delivery: true,
	},
	{
		Name: "Green Earth Organics", Location: "Pune", Contact: "+91 20 5550 0144",
		DistanceKm: 6.8, Price: 310, Products: []string{"Neem oil spray", "Copper hydroxide (organic approved)"},
		Organic: true, Delivery: true,
	},
	{
		Name: "Shetkari Seva Kendra", Location: "Pune", Contact: "+91 20 5550 0190",
		DistanceKm: 1.5, Price: 280, Products: []string{"Mancozeb 75% WP", "Wettable sulphur"},
	},
	{
		Name: "Nashik Krishi Bhandar", Location: "Nashik", Contact: "+91 253 555 0112",
		DistanceKm: 2.1, Price: 350, Products: []string{"Neem oil spray", "Imidacloprid for whitefly control"},
		Organic: true,
	},
}
